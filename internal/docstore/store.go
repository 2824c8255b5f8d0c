// Record store: CRUD over collections with per-collection locking, atomic
// persistence and index maintenance.

package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maruel/docdb/internal/atomicfile"
	"github.com/maruel/docdb/internal/index"
	"github.com/maruel/docdb/internal/lockmgr"
)

// Store is the context object owning every registry of one embedded
// database: lock table, cache, index configuration, relations and event
// listeners. Independent stores share nothing.
//
// Mutations of a collection are totally ordered by lock acquisition. Reads do
// not lock and may observe the state before or after a concurrent write.
type Store struct {
	root      string
	indexDir  string
	codec     Codec
	locks     *lockmgr.Manager
	writer    *atomicfile.Writer
	idx       *index.Manager
	cache     *cache
	events    *emitter
	ids       IDGenerator
	validator Validator
	timeout   time.Duration
	logger    *slog.Logger

	mu        sync.RWMutex
	indexes   map[string][]string
	relations map[string]*Relation
	relOrder  []string
	closeOnce sync.Once
}

// Open creates the root directory if needed and returns a ready store.
func Open(opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, newError(CodeInvalidConfig, "open", "", "", "", err)
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, newError(CodeDirectoryNotFound, "open", "", "", opts.Root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: data directories are world-readable
		return nil, newError(CodeIOError, "open", "", "", "failed to create root directory", err)
	}
	indexDir := opts.IndexDir
	if indexDir == "" {
		indexDir = DefaultIndexDir
	}
	if !filepath.IsAbs(indexDir) {
		indexDir = filepath.Join(root, indexDir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		root:      root,
		indexDir:  indexDir,
		codec:     opts.Codec,
		locks:     lockmgr.New(),
		ids:       opts.IDs,
		validator: opts.Validator,
		timeout:   opts.LockTimeout,
		logger:    logger,
		indexes:   make(map[string][]string),
		relations: make(map[string]*Relation),
	}
	if s.codec == nil {
		s.codec = JSONCodec{}
	}
	if s.ids == nil {
		s.ids, _ = NewIDGenerator("")
	}
	if s.timeout == 0 {
		s.timeout = lockmgr.DefaultTimeout
	}
	if opts.Cache.Enabled {
		s.cache = newCache(opts.Cache.TTL)
	}
	s.writer = &atomicfile.Writer{OnWrite: s.onWrite, Logger: logger}
	if opts.Backup.Enabled {
		b, err := atomicfile.NewBackup(opts.Backup.Suffix, opts.Backup.Policy, opts.Backup.Interval)
		if err != nil {
			return nil, newError(CodeInvalidConfig, "open", "", "", "", err)
		}
		s.writer.Backup = b
	}
	// Index files are derived data and never backed up.
	s.idx = index.New(indexDir, s.locks, &atomicfile.Writer{OnWrite: s.onWrite, Logger: logger}, s.timeout)
	for collection, fields := range opts.Indexes {
		s.indexes[s.canonicalName(collection)] = slices.Compact(slices.Sorted(slices.Values(fields)))
	}
	s.events = newEmitter(logger, opts.EventBuffer)
	for _, l := range opts.Listeners {
		s.events.subscribe(l)
	}
	for _, r := range opts.Relations {
		if err := s.DefineRelation(r); err != nil {
			s.events.close()
			return nil, err
		}
	}
	if err := s.buildMissingIndexes(context.Background()); err != nil {
		s.events.close()
		var e *Error
		if errors.As(err, &e) && e.Op == "" {
			e.Op = "open"
		}
		return nil, err
	}
	return s, nil
}

// buildMissingIndexes indexes existing collections whose configured index
// files do not exist, such as data written before the index was declared.
func (s *Store) buildMissingIndexes(ctx context.Context) error {
	s.mu.RLock()
	indexes := maps.Clone(s.indexes)
	s.mu.RUnlock()
	for _, c := range slices.Sorted(maps.Keys(indexes)) {
		missing := slices.ContainsFunc(indexes[c], func(f string) bool {
			_, err := os.Stat(s.idx.Path(c, f))
			return errors.Is(err, fs.ErrNotExist)
		})
		if !missing {
			continue
		}
		path, _, err := s.resolve(c)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		s.logger.InfoContext(ctx, "building missing indexes", "collection", c)
		if err := s.reindex(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending events. The store must not be used afterwards.
func (s *Store) Close() error {
	s.closeOnce.Do(s.events.close)
	return nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// IndexDir returns the absolute index directory.
func (s *Store) IndexDir() string {
	return s.indexDir
}

// Codec returns the collection file codec.
func (s *Store) Codec() Codec {
	return s.codec
}

// Subscribe registers a listener for lifecycle events.
func (s *Store) Subscribe(l Listener) {
	s.events.subscribe(l)
}

// Invalidate drops cached values read from path. It is called for every
// write made through the store and may be called for external edits.
func (s *Store) Invalidate(path string) {
	s.cache.invalidate(filepath.Clean(path))
}

// InvalidateAll drops every cached value.
func (s *Store) InvalidateAll() {
	s.cache.invalidateAll()
}

// IndexedFields returns the indexed fields of collection.
func (s *Store) IndexedFields(collection string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.indexes[s.canonicalName(collection)])
}

// Path returns the file backing collection.
func (s *Store) Path(collection string) (string, error) {
	p, _, err := s.resolve(collection)
	return p, err
}

func (s *Store) onWrite(path string) {
	s.cache.invalidate(path)
	ev := Event{Op: OpWrite, Phase: PhaseAfter, Path: path}
	if rel, err := filepath.Rel(s.root, path); err == nil && !s.isIndexPath(path) && strings.HasSuffix(rel, s.codec.Ext()) {
		ev.Collection = filepath.ToSlash(strings.TrimSuffix(rel, s.codec.Ext()))
	}
	s.events.emit(ev)
}

func (s *Store) isIndexPath(p string) bool {
	return p == s.indexDir || strings.HasPrefix(p, s.indexDir+string(filepath.Separator))
}

// validName checks a collection name before it is mapped under the root.
func validName(name string) error {
	if name == "" {
		return errors.New("collection name is empty")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("collection name %q must be relative", name)
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(name)), "/") {
		if part == ".." || part == "." || strings.HasPrefix(part, ".") {
			return fmt.Errorf("collection name %q has an invalid element %q", name, part)
		}
	}
	return nil
}

// canonicalName strips the codec suffix and cleans separators.
func (s *Store) canonicalName(collection string) string {
	n := filepath.ToSlash(filepath.Clean(collection))
	return strings.TrimSuffix(n, s.codec.Ext())
}

// resolve returns the file path and canonical name of collection.
func (s *Store) resolve(collection string) (string, string, error) {
	if err := validName(collection); err != nil {
		return "", "", newError(CodeOperationFailed, "", collection, "", "", err)
	}
	name := s.canonicalName(collection)
	p := filepath.Join(s.root, filepath.FromSlash(name)+s.codec.Ext())
	if s.isIndexPath(p) {
		return "", "", newError(CodeOperationFailed, "", collection, "", "collection name clashes with the index directory", nil)
	}
	return p, name, nil
}

// operation tracks one store call for events and error context.
type operation struct {
	s          *Store
	op         Op
	collection string
	id         string
	start      time.Time
}

func (s *Store) begin(op Op, collection, id string) *operation {
	o := &operation{s: s, op: op, collection: collection, id: id, start: time.Now()}
	s.events.emit(Event{Phase: PhaseBefore, Op: op, Collection: collection, ID: id, Time: o.start})
	return o
}

// end emits the after or error event and stamps err with the operation.
func (o *operation) end(err error) error {
	ev := Event{Phase: PhaseAfter, Op: o.op, Collection: o.collection, ID: o.id, Duration: time.Since(o.start)}
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = newError(CodeOperationFailed, "", o.collection, o.id, "", err)
			err = e
		}
		if e.Op == "" {
			e.Op = string(o.op)
		}
		if e.Collection == "" {
			e.Collection = o.collection
		}
		ev.Phase = PhaseError
		ev.Err = err
	}
	o.s.events.emit(ev)
	return err
}

func (s *Store) lock(ctx context.Context, path, collection string) (lockmgr.Release, error) {
	release, err := s.locks.Acquire(ctx, path, s.timeout)
	if err != nil {
		return nil, newError(CodeOperationFailed, "", collection, "", "lock not acquired", err)
	}
	return release, nil
}

// read loads the current content of path. A missing file is an empty
// collection.
func (s *Store) read(path, collection string) ([]Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is resolved under the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, newError(CodeIOError, "", collection, "", "failed to read collection", err)
	}
	records, err := s.codec.Decode(data)
	if err != nil {
		return nil, newError(CodeInvalidData, "", collection, "", "not a valid record sequence", err)
	}
	return records, nil
}

// snapshot returns the collection for read-only use, served from the cache
// when enabled. Callers must clone before handing records out.
func (s *Store) snapshot(path, collection string) ([]Record, error) {
	if v, ok := s.cache.get(path, ""); ok {
		return v.([]Record), nil
	}
	gen := s.cache.generation(path)
	records, err := s.read(path, collection)
	if err != nil {
		return nil, err
	}
	s.cache.set(path, "", records, gen)
	return records, nil
}

func (s *Store) persist(path, collection string, records []Record) error {
	data, err := s.codec.Encode(records)
	if err != nil {
		return newError(CodeInvalidData, "", collection, "", "failed to encode collection", err)
	}
	if err := s.writer.Write(path, data); err != nil {
		return newError(CodeIOError, "", collection, "", "failed to write collection", err)
	}
	return nil
}

func (s *Store) validate(collection string, r Record) error {
	if s.validator == nil {
		return nil
	}
	if err := s.validator.Validate(collection, r); err != nil {
		return newError(CodeInvalidData, "", collection, r.ID(), "validation failed", err)
	}
	return nil
}

// prepare normalizes a replacement sequence, assigns missing ids and rejects
// duplicates and invalid records.
func (s *Store) prepare(collection string, in []Record) ([]Record, error) {
	out := make([]Record, len(in))
	taken := make(map[string]struct{}, len(in))
	for i, r := range in {
		n, err := normalize(r)
		if err != nil {
			return nil, newError(CodeInvalidData, "", collection, "", fmt.Sprintf("record %d", i), err)
		}
		id, ok, err := checkID(n)
		if err != nil {
			return nil, newError(CodeInvalidData, "", collection, "", fmt.Sprintf("record %d", i), err)
		}
		if ok {
			if _, dup := taken[id]; dup {
				return nil, newError(CodeRecordExists, "", collection, id, "duplicate id in input", nil)
			}
			taken[id] = struct{}{}
		}
		out[i] = n
	}
	for _, r := range out {
		if r.ID() != "" {
			continue
		}
		id, err := allocateID(s.ids, taken)
		if err != nil {
			return nil, newError(CodeOperationFailed, "", collection, "", "", err)
		}
		taken[id] = struct{}{}
		r[IDField] = id
	}
	for _, r := range out {
		if err := s.validate(collection, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddAllOptions tunes [Store.AddAll].
type AddAllOptions struct {
	// Overwrite allows replacing an existing collection file.
	Overwrite bool
}

// AddAll replaces the whole collection with records, assigning missing ids.
// It refuses to replace an existing file unless opts.Overwrite is set.
func (s *Store) AddAll(ctx context.Context, collection string, records []Record, opts AddAllOptions) ([]Record, error) {
	o := s.begin(OpAddAll, collection, "")
	out, err := s.replace(ctx, collection, records, !opts.Overwrite)
	return out, o.end(err)
}

// EditAll unconditionally replaces the whole collection with records.
// Missing ids are assigned and duplicate ids rejected.
func (s *Store) EditAll(ctx context.Context, collection string, records []Record) ([]Record, error) {
	o := s.begin(OpEditAll, collection, "")
	out, err := s.replace(ctx, collection, records, false)
	return out, o.end(err)
}

func (s *Store) replace(ctx context.Context, collection string, records []Record, refuseExisting bool) ([]Record, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	prepared, err := s.prepare(name, records)
	if err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, path, name)
	if err != nil {
		return nil, err
	}
	defer release()
	if refuseExisting {
		if _, err := os.Stat(path); err == nil {
			return nil, newError(CodeOperationFailed, "", name, "", "collection exists; set overwrite to replace it", nil)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, newError(CodeIOError, "", name, "", "", err)
		}
	}
	if err := s.persist(path, name, prepared); err != nil {
		return nil, err
	}
	// The data file is committed; a stale index is repaired by Reindex.
	if err := s.rebuildIndexes(ctx, name, prepared); err != nil {
		s.logger.ErrorContext(ctx, "index rebuild failed after write", "collection", name, "err", err)
	}
	return cloneRecords(prepared), nil
}

// AddOne appends r to the collection, generating an id if r has none.
func (s *Store) AddOne(ctx context.Context, collection string, r Record) (Record, error) {
	o := s.begin(OpAddOne, collection, r.ID())
	out, err := s.addOne(ctx, collection, r, o)
	return out, o.end(err)
}

func (s *Store) addOne(ctx context.Context, collection string, r Record, o *operation) (Record, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	rec, err := normalize(r)
	if err != nil {
		return nil, newError(CodeInvalidData, "", name, "", "", err)
	}
	id, hasID, err := checkID(rec)
	if err != nil {
		return nil, newError(CodeInvalidData, "", name, "", "", err)
	}
	release, err := s.lock(ctx, path, name)
	if err != nil {
		return nil, err
	}
	defer release()
	records, err := s.read(path, name)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(records))
	for _, e := range records {
		taken[e.ID()] = struct{}{}
	}
	if hasID {
		if _, dup := taken[id]; dup {
			return nil, newError(CodeRecordExists, "", name, id, "", nil)
		}
	} else {
		if id, err = allocateID(s.ids, taken); err != nil {
			return nil, newError(CodeOperationFailed, "", name, "", "", err)
		}
		rec[IDField] = id
	}
	o.id = id
	if err := s.validate(name, rec); err != nil {
		return nil, err
	}
	if err := s.persist(path, name, append(records, rec)); err != nil {
		return nil, err
	}
	s.updateIndexes(ctx, name, nil, rec, records)
	return rec.Clone(), nil
}

// EditOne shallow-merges patch onto the record with id. The id itself
// cannot be changed.
func (s *Store) EditOne(ctx context.Context, collection, id string, patch Record) (Record, error) {
	o := s.begin(OpEditOne, collection, id)
	out, err := s.editOne(ctx, collection, id, patch, true)
	return out, o.end(err)
}

func (s *Store) editOne(ctx context.Context, collection, id string, patch Record, validate bool) (Record, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	p, err := normalize(patch)
	if err != nil {
		return nil, newError(CodeInvalidData, "", name, id, "", err)
	}
	release, err := s.lock(ctx, path, name)
	if err != nil {
		return nil, err
	}
	defer release()
	records, err := s.read(path, name)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(records, func(r Record) bool { return r.ID() == id })
	if i < 0 {
		return nil, newError(CodeRecordNotFound, "", name, id, "", nil)
	}
	prev := records[i]
	merged := Merge(prev, p)
	if validate {
		if err := s.validate(name, merged); err != nil {
			return nil, err
		}
	}
	records[i] = merged
	if err := s.persist(path, name, records); err != nil {
		return nil, err
	}
	s.updateIndexes(ctx, name, prev, merged, records)
	return merged.Clone(), nil
}

// DeleteAll truncates the collection to an empty sequence and drops its
// indexes. The file remains.
func (s *Store) DeleteAll(ctx context.Context, collection string) error {
	o := s.begin(OpDeleteAll, collection, "")
	return o.end(s.deleteAll(ctx, collection))
}

func (s *Store) deleteAll(ctx context.Context, collection string) error {
	path, name, err := s.resolve(collection)
	if err != nil {
		return err
	}
	release, err := s.lock(ctx, path, name)
	if err != nil {
		return err
	}
	defer release()
	if err := s.persist(path, name, []Record{}); err != nil {
		return err
	}
	if err := s.idx.Drop(ctx, name); err != nil {
		s.logger.ErrorContext(ctx, "failed to drop indexes after truncate", "collection", name, "err", err)
	}
	return nil
}

// ViewAll returns every record of the collection. A missing collection is
// empty.
func (s *Store) ViewAll(ctx context.Context, collection string) ([]Record, error) {
	o := s.begin(OpViewAll, collection, "")
	out, err := s.viewAll(collection)
	return out, o.end(err)
}

func (s *Store) viewAll(collection string) ([]Record, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	records, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	return cloneRecords(records), nil
}

// ViewOne returns the record with id.
func (s *Store) ViewOne(ctx context.Context, collection, id string) (Record, error) {
	o := s.begin(OpViewOne, collection, id)
	out, err := s.viewOne(collection, id)
	return out, o.end(err)
}

func (s *Store) viewOne(collection, id string) (Record, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	if v, ok := s.cache.get(path, id); ok {
		return v.(Record).Clone(), nil
	}
	gen := s.cache.generation(path)
	records, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID() == id {
			s.cache.set(path, id, r, gen)
			return r.Clone(), nil
		}
	}
	return nil, newError(CodeRecordNotFound, "", name, id, "", nil)
}

// Find returns the records whose field equals value, through the index when
// field is indexed and by scanning otherwise.
func (s *Store) Find(ctx context.Context, collection, field string, value any) ([]Record, error) {
	o := s.begin(OpFind, collection, "")
	out, err := s.lookup(ctx, collection, field, value)
	if err == nil {
		out = cloneRecords(out)
	}
	return out, o.end(err)
}

// lookup implements Find without cloning.
func (s *Store) lookup(ctx context.Context, collection, field string, value any) ([]Record, error) {
	_, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	if field == IDField || !slices.Contains(s.IndexedFields(name), field) {
		return s.scan(name, field, value)
	}
	ids, err := s.idx.Find(ctx, name, field, value)
	if err != nil {
		return nil, newError(classifyIndexErr(err), "", name, "", "index lookup failed", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	matched, err := s.scan(name, field, value)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range matched {
		if _, found := slices.BinarySearch(ids, r.ID()); found {
			out = append(out, r)
		}
	}
	return out, nil
}

// scan returns the records of collection whose field equals value, reading
// the collection content and ignoring indexes.
func (s *Store) scan(collection, field string, value any) ([]Record, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	records, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	key := index.Key(value)
	var out []Record
	for _, r := range records {
		if v, ok := r[field]; ok && index.Key(v) == key {
			out = append(out, r)
		}
	}
	return out, nil
}

// Reindex rebuilds every configured index of collection from its content.
func (s *Store) Reindex(ctx context.Context, collection string) error {
	o := s.begin(OpReindex, collection, "")
	return o.end(s.reindex(ctx, collection))
}

func (s *Store) reindex(ctx context.Context, collection string) error {
	path, name, err := s.resolve(collection)
	if err != nil {
		return err
	}
	release, err := s.lock(ctx, path, name)
	if err != nil {
		return err
	}
	defer release()
	records, err := s.read(path, name)
	if err != nil {
		return err
	}
	return s.rebuildIndexes(ctx, name, records)
}

// Collections lists the collections present under the root.
func (s *Store) Collections() ([]string, error) {
	var out []string
	ext := s.codec.Ext()
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == s.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p == s.indexDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, strings.TrimSuffix(filepath.ToSlash(rel), ext))
		return nil
	})
	if err != nil {
		return nil, newError(CodeIOError, "collections", "", "", "", err)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) rebuildIndexes(ctx context.Context, collection string, records []Record) error {
	fields := s.IndexedFields(collection)
	if len(fields) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(records))
	for i, r := range records {
		rows[i] = r
	}
	if err := s.idx.Rebuild(ctx, collection, rows, fields); err != nil {
		return newError(classifyIndexErr(err), "", collection, "", "failed to rebuild indexes", err)
	}
	return nil
}

// updateIndexes applies the change from prev to curr to every index of
// collection. Either may be nil. The data file is already committed, so a
// failed incremental update falls back to a full rebuild from snapshot.
func (s *Store) updateIndexes(ctx context.Context, collection string, prev, curr Record, snapshot []Record) {
	fields := s.IndexedFields(collection)
	if len(fields) == 0 {
		return
	}
	var errs []error
	for _, f := range fields {
		var pv, cv any
		var pok, cok bool
		if prev != nil {
			pv, pok = prev[f]
		}
		if curr != nil {
			cv, cok = curr[f]
		}
		same := pok && cok && index.Key(pv) == index.Key(cv)
		if pok && !same {
			errs = append(errs, s.idx.Remove(ctx, collection, f, pv, prev.ID()))
		}
		if cok && !same {
			errs = append(errs, s.idx.Update(ctx, collection, f, cv, curr.ID()))
		}
	}
	err := errors.Join(errs...)
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "incremental index update failed, rebuilding", "collection", collection, "err", err)
	current := snapshot
	if curr != nil && !slices.ContainsFunc(snapshot, func(r Record) bool { return r.ID() == curr.ID() }) {
		current = append(slices.Clip(snapshot), curr)
	}
	if err := s.rebuildIndexes(ctx, collection, current); err != nil {
		s.logger.ErrorContext(ctx, "index rebuild failed", "collection", collection, "err", err)
	}
}

func classifyIndexErr(err error) Code {
	switch {
	case errors.Is(err, lockmgr.ErrTimeout):
		return CodeOperationFailed
	case errors.Is(err, index.ErrInvalidData):
		return CodeInvalidData
	default:
		return CodeIOError
	}
}

// DeleteOne removes the record with id and applies the delete policy of
// every relation whose local collection is collection.
//
// RESTRICT is checked before anything is written. CASCADE and SET_NULL run
// after the removal is durable; their failures are logged per record and do
// not roll back the primary delete.
func (s *Store) DeleteOne(ctx context.Context, collection, id string) error {
	o := s.begin(OpDeleteOne, collection, id)
	return o.end(s.deleteOne(ctx, collection, id))
}

func (s *Store) deleteOne(ctx context.Context, collection, id string) error {
	path, name, err := s.resolve(collection)
	if err != nil {
		return err
	}
	release, err := s.lock(ctx, path, name)
	if err != nil {
		return err
	}
	defer release()
	records, err := s.read(path, name)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(records, func(r Record) bool { return r.ID() == id })
	if i < 0 {
		return newError(CodeRecordNotFound, "", name, id, "", nil)
	}
	rec := records[i]
	rels := s.relationsFrom(name)
	if err := s.restrict(ctx, rels, rec); err != nil {
		return err
	}
	records = slices.Delete(records, i, i+1)
	if err := s.persist(path, name, records); err != nil {
		return err
	}
	s.updateIndexes(ctx, name, rec, nil, records)
	// Dependents may live in this same collection.
	release()
	s.propagate(ctx, rels, rec)
	return nil
}
