// Package index maintains per-field inverted indexes for collections.
//
// Each (collection, field) index is a JSON file mapping the stringified field
// value to the sorted, deduplicated ids of the records holding that value:
//
//	<dir>/<collection>/<field>.json
//
// Updates lock the index file's own path, independently of the collection's
// data file, so indexes on different fields of one record update concurrently.
// Lookups read the file without locking; files are only ever replaced
// atomically.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/maruel/docdb/internal/atomicfile"
	"github.com/maruel/docdb/internal/lockmgr"
)

// ErrInvalidData is returned when an index file cannot be decoded.
var ErrInvalidData = errors.New("invalid index file")

// Entries maps a stringified value to the ids holding it.
type Entries map[string][]string

// Manager reads and writes index files below a directory.
type Manager struct {
	dir     string
	locks   *lockmgr.Manager
	writer  *atomicfile.Writer
	timeout time.Duration
}

// New returns a Manager storing indexes below dir.
//
// locks and writer are shared with the owning store so that lock waits and
// write notifications are accounted in one place.
func New(dir string, locks *lockmgr.Manager, writer *atomicfile.Writer, timeout time.Duration) *Manager {
	return &Manager{dir: dir, locks: locks, writer: writer, timeout: timeout}
}

// Dir returns the root directory of all indexes.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the file backing the (collection, field) index.
func (m *Manager) Path(collection, field string) string {
	return filepath.Join(m.dir, collection, field+".json")
}

// Key returns the stringified form of value used as index key.
//
// Strings are used verbatim, whole numbers print without a fraction, nil is
// "null" and composite values use their JSON encoding.
func Key(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Update adds id under value in the (collection, field) index.
func (m *Manager) Update(ctx context.Context, collection, field string, value any, id string) error {
	key := Key(value)
	return m.modify(ctx, collection, field, func(e Entries) bool {
		ids := e[key]
		i, found := slices.BinarySearch(ids, id)
		if found {
			return false
		}
		e[key] = slices.Insert(ids, i, id)
		return true
	})
}

// Remove drops id from value in the (collection, field) index.
func (m *Manager) Remove(ctx context.Context, collection, field string, value any, id string) error {
	key := Key(value)
	return m.modify(ctx, collection, field, func(e Entries) bool {
		ids := e[key]
		i, found := slices.BinarySearch(ids, id)
		if !found {
			return false
		}
		ids = slices.Delete(ids, i, i+1)
		if len(ids) == 0 {
			delete(e, key)
		} else {
			e[key] = ids
		}
		return true
	})
}

// Find returns the ids whose field equals value. A missing index reads as
// empty.
func (m *Manager) Find(_ context.Context, collection, field string, value any) ([]string, error) {
	e, err := m.load(m.Path(collection, field))
	if err != nil {
		return nil, err
	}
	return slices.Clone(e[Key(value)]), nil
}

// Load returns the whole (collection, field) index.
func (m *Manager) Load(_ context.Context, collection, field string) (Entries, error) {
	return m.load(m.Path(collection, field))
}

// Rebuild recomputes the indexes for fields from a full snapshot of the
// collection and atomically overwrites each index file. Records without the
// field or without an id are skipped.
func (m *Manager) Rebuild(ctx context.Context, collection string, records []map[string]any, fields []string) error {
	for _, field := range fields {
		e := make(Entries)
		for _, r := range records {
			id, _ := r["id"].(string)
			if id == "" {
				continue
			}
			v, ok := r[field]
			if !ok {
				continue
			}
			key := Key(v)
			e[key] = append(e[key], id)
		}
		for k, ids := range e {
			slices.Sort(ids)
			e[k] = slices.Compact(ids)
		}
		path := m.Path(collection, field)
		err := m.locks.With(ctx, path, m.timeout, func() error {
			return m.store(path, e)
		})
		if err != nil {
			return fmt.Errorf("failed to rebuild index %s.%s: %w", collection, field, err)
		}
	}
	return nil
}

// Drop deletes every index of collection.
func (m *Manager) Drop(ctx context.Context, collection string) error {
	dir := filepath.Join(m.dir, collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list indexes of %s: %w", collection, err)
	}
	var errs []error
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, de.Name())
		err := m.locks.With(ctx, path, m.timeout, func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to drop indexes of %s: %w", collection, err)
	}
	return nil
}

// modify runs fn on the index under its lock and persists the result if fn
// reports a change.
func (m *Manager) modify(ctx context.Context, collection, field string, fn func(Entries) bool) error {
	path := m.Path(collection, field)
	return m.locks.With(ctx, path, m.timeout, func() error {
		e, err := m.load(path)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
		return m.store(path, e)
	})
}

func (m *Manager) load(path string) (Entries, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is derived from the index root
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entries{}, nil
		}
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}
	e := Entries{}
	if len(data) == 0 {
		return e, nil
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidData, path, err)
	}
	return e, nil
}

func (m *Manager) store(path string, e Entries) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return m.writer.Write(path, append(data, '\n'))
}
