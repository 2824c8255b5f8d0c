// Package docstore provides an embedded, file-backed document store.
//
// # Overview
//
// A [Store] persists collections of JSON-like [Record] values, one file per
// collection under a root directory. Every record carries a unique string
// id, generated when absent. A collection file is always replaced as a
// whole through an atomic temp-file-then-rename write, so a reader sees
// either the old or the new content and never a torn file.
//
// # Concurrency
//
// Mutations of one collection hold its lock for the whole read-modify-write
// cycle; lock waits are FIFO and bounded by [Options.LockTimeout]. Reads do
// not lock. A read racing a write may observe either state.
//
// # Indexes
//
// Fields listed in [Options.Indexes] are kept in value to id-list files
// under the index directory, updated after each mutation. [Store.Find] uses
// them as its fast path and [Store.Reindex] rebuilds them. [Open] builds
// indexes whose files are missing. A failed index write after the data file
// is committed is logged, not returned; Reindex repairs it.
//
// # Relations
//
// [Relation] declares a 1:1, 1:N or N:M edge and its delete policy.
// RESTRICT blocks a delete before anything is written. CASCADE and SET_NULL
// run after the primary delete is durable and are best effort: a failure is
// logged and the primary delete stays committed. Dependents are found by
// reading the referencing collection, never through an index.
//
// # Errors
//
// Every operation returns an [*Error] whose [Code] belongs to a closed
// taxonomy. Use errors.Is with the Err sentinels to test for a code.
package docstore
