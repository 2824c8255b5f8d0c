// Store configuration.

package docstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maruel/docdb/internal/atomicfile"
)

// DefaultIndexDir is the subdirectory of the root holding index files.
const DefaultIndexDir = "_indexes"

// CacheOptions configures the read cache.
type CacheOptions struct {
	Enabled bool
	// TTL bounds the age of cached values. Zero means entries live until
	// the next write to their collection.
	TTL time.Duration
}

// BackupOptions configures sibling backup files.
type BackupOptions struct {
	Enabled  bool
	Suffix   string
	Policy   atomicfile.Policy
	Interval time.Duration
}

// Options configures a [Store].
type Options struct {
	// Root is the directory holding one file per collection. Required.
	Root string
	// IndexDir is the index directory, relative to Root unless absolute.
	// Defaults to DefaultIndexDir.
	IndexDir string
	// Codec encodes collection files. Defaults to JSON.
	Codec Codec
	// Indexes lists the indexed fields of each collection.
	Indexes map[string][]string
	// Relations are declared at Open. More can be added with
	// [Store.DefineRelation].
	Relations []Relation
	Cache     CacheOptions
	Backup    BackupOptions
	// LockTimeout bounds every lock wait. Zero means lockmgr.DefaultTimeout.
	LockTimeout time.Duration
	// IDs generates missing record ids. Defaults to ksid.
	IDs IDGenerator
	// Validator, when set, is invoked before records are persisted.
	Validator Validator
	// Listeners receive lifecycle events.
	Listeners []Listener
	// EventBuffer is the capacity of the event queue.
	EventBuffer int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks that the options are usable.
func (o *Options) Validate() error {
	if o.Root == "" {
		return errors.New("root is required")
	}
	if o.LockTimeout < 0 {
		return errors.New("lock timeout must be non-negative")
	}
	if o.Cache.TTL < 0 {
		return errors.New("cache ttl must be non-negative")
	}
	if o.Backup.Enabled {
		if o.Backup.Policy != "" {
			if err := o.Backup.Policy.Validate(); err != nil {
				return err
			}
		}
		if o.Backup.Policy == atomicfile.PolicyInterval && o.Backup.Interval <= 0 {
			return errors.New("backup interval must be positive")
		}
	}
	for collection, fields := range o.Indexes {
		if err := validName(collection); err != nil {
			return fmt.Errorf("index on %q: %w", collection, err)
		}
		for _, f := range fields {
			if f == "" {
				return fmt.Errorf("index on %q: empty field name", collection)
			}
		}
	}
	for i := range o.Relations {
		if err := o.Relations[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
