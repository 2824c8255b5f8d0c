package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/maruel/docdb/internal/atomicfile"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	s, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})
	return s
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func readJSON(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	return out
}

// sequence returns a generator yielding vals in order, then repeating the
// last one.
func sequence(vals ...string) IDGenerator {
	var mu sync.Mutex
	i := 0
	return IDGeneratorFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		v := vals[min(i, len(vals)-1)]
		i++
		return v
	})
}

func TestOpen(t *testing.T) {
	t.Run("creates root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "a", "b")
		s := newTestStore(t, Options{Root: root})
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			t.Fatalf("root not created: %v", err)
		}
		if !filepath.IsAbs(s.Root()) {
			t.Fatalf("Root() = %q, want absolute", s.Root())
		}
		if got, want := s.IndexDir(), filepath.Join(s.Root(), DefaultIndexDir); got != want {
			t.Fatalf("IndexDir() = %q, want %q", got, want)
		}
	})
	for _, tc := range []struct {
		name string
		opts Options
	}{
		{"no root", Options{}},
		{"negative timeout", Options{Root: "x", LockTimeout: -1}},
		{"bad index collection", Options{Root: "x", Indexes: map[string][]string{"../x": {"a"}}}},
		{"empty index field", Options{Root: "x", Indexes: map[string][]string{"users": {""}}}},
		{"bad backup policy", Options{Root: "x", Backup: BackupOptions{Enabled: true, Policy: "sometimes"}}},
		{"interval without period", Options{Root: "x", Backup: BackupOptions{Enabled: true, Policy: atomicfile.PolicyInterval}}},
		{"bad relation", Options{Root: "x", Relations: []Relation{{Name: "r", Type: "2:3", LocalCollection: "a", ForeignCollection: "b"}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Open(tc.opts); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Open() = %v, want InvalidConfig", err)
			}
		})
	}
}

func TestStore_AddOne(t *testing.T) {
	ctx := t.Context()
	t.Run("generates id", func(t *testing.T) {
		s := newTestStore(t, Options{})
		r, err := s.AddOne(ctx, "users", Record{"name": "Alice"})
		if err != nil {
			t.Fatal(err)
		}
		if r.ID() == "" {
			t.Fatal("no id assigned")
		}
		got, err := s.ViewOne(ctx, "users", r.ID())
		if err != nil {
			t.Fatal(err)
		}
		if got["name"] != "Alice" {
			t.Fatalf("ViewOne() = %v", got)
		}
		path, _ := s.Path("users")
		if path != filepath.Join(s.Root(), "users.json") {
			t.Fatalf("Path() = %q", path)
		}
		if rows := readJSON(t, path); len(rows) != 1 || rows[0]["id"] != r.ID() {
			t.Fatalf("file = %v", rows)
		}
	})
	t.Run("keeps id", func(t *testing.T) {
		s := newTestStore(t, Options{})
		if _, err := s.AddOne(ctx, "users", Record{"id": "u1"}); err != nil {
			t.Fatal(err)
		}
		_, err := s.AddOne(ctx, "users", Record{"id": "u1", "name": "again"})
		if !errors.Is(err, ErrRecordExists) {
			t.Fatalf("AddOne() = %v, want RecordExists", err)
		}
		all, _ := s.ViewAll(ctx, "users")
		if len(all) != 1 {
			t.Fatalf("len = %d", len(all))
		}
	})
	t.Run("invalid id", func(t *testing.T) {
		s := newTestStore(t, Options{})
		for _, id := range []any{3, "", true} {
			if _, err := s.AddOne(ctx, "users", Record{"id": id}); !errors.Is(err, ErrInvalidData) {
				t.Fatalf("AddOne(%v) = %v, want InvalidData", id, err)
			}
		}
	})
	t.Run("retries collisions", func(t *testing.T) {
		s := newTestStore(t, Options{IDs: sequence("a", "a", "a", "b")})
		for _, want := range []string{"a", "b"} {
			r, err := s.AddOne(ctx, "users", Record{})
			if err != nil {
				t.Fatal(err)
			}
			if r.ID() != want {
				t.Fatalf("id = %q, want %q", r.ID(), want)
			}
		}
	})
	t.Run("exhausted", func(t *testing.T) {
		s := newTestStore(t, Options{IDs: sequence("x")})
		if _, err := s.AddOne(ctx, "users", Record{}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AddOne(ctx, "users", Record{}); !errors.Is(err, ErrOperationFailed) {
			t.Fatalf("AddOne() = %v, want OperationFailed", err)
		}
	})
	t.Run("suffix", func(t *testing.T) {
		s := newTestStore(t, Options{})
		if _, err := s.AddOne(ctx, "users.json", Record{"id": "a"}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ViewOne(ctx, "users", "a"); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("caller copy", func(t *testing.T) {
		s := newTestStore(t, Options{})
		in := Record{"id": "a", "tags": []any{"x"}}
		out, err := s.AddOne(ctx, "users", in)
		if err != nil {
			t.Fatal(err)
		}
		out["tags"].([]any)[0] = "mutated"
		in["tags"].([]any)[0] = "mutated"
		got, _ := s.ViewOne(ctx, "users", "a")
		if got["tags"].([]any)[0] != "x" {
			t.Fatalf("stored record aliased: %v", got)
		}
	})
}

func TestStore_AddAll(t *testing.T) {
	ctx := t.Context()
	t.Run("overwrite", func(t *testing.T) {
		s := newTestStore(t, Options{})
		if _, err := s.AddAll(ctx, "users", []Record{{"id": "a"}, {"id": "b"}}, AddAllOptions{}); err != nil {
			t.Fatal(err)
		}
		_, err := s.AddAll(ctx, "users", []Record{{"id": "c"}}, AddAllOptions{})
		if !errors.Is(err, ErrOperationFailed) {
			t.Fatalf("AddAll() = %v, want OperationFailed", err)
		}
		if _, err := s.AddAll(ctx, "users", []Record{{"id": "c"}}, AddAllOptions{Overwrite: true}); err != nil {
			t.Fatal(err)
		}
		all, _ := s.ViewAll(ctx, "users")
		if got := ids(all); !slices.Equal(got, []string{"c"}) {
			t.Fatalf("ids = %v", got)
		}
	})
	t.Run("assigns ids", func(t *testing.T) {
		s := newTestStore(t, Options{IDs: sequence("a", "b", "c")})
		out, err := s.AddAll(ctx, "users", []Record{{"n": 1}, {"id": "b"}, {"n": 2}}, AddAllOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if got := ids(out); !slices.Equal(got, []string{"a", "b", "c"}) {
			t.Fatalf("ids = %v", got)
		}
	})
	t.Run("duplicate", func(t *testing.T) {
		s := newTestStore(t, Options{})
		_, err := s.AddAll(ctx, "users", []Record{{"id": "a"}, {"id": "a"}}, AddAllOptions{})
		if !errors.Is(err, ErrRecordExists) {
			t.Fatalf("AddAll() = %v, want RecordExists", err)
		}
		path, _ := s.Path("users")
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("file written: %v", err)
		}
	})
}

func TestStore_EditAll(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{})
	if _, err := s.AddAll(ctx, "users", []Record{{"id": "a"}}, AddAllOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EditAll(ctx, "users", []Record{{"id": "b"}, {"id": "c"}}); err != nil {
		t.Fatal(err)
	}
	all, _ := s.ViewAll(ctx, "users")
	if got := ids(all); !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("ids = %v", got)
	}
	if _, err := s.EditAll(ctx, "users", []Record{{"id": "d"}, {"id": "d"}}); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("EditAll() = %v, want RecordExists", err)
	}
}

func TestStore_EditOne(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{})
	if _, err := s.AddOne(ctx, "users", Record{"id": "a", "name": "Alice", "age": 30}); err != nil {
		t.Fatal(err)
	}
	got, err := s.EditOne(ctx, "users", "a", Record{"id": "zzz", "age": 31, "city": "Paris"})
	if err != nil {
		t.Fatal(err)
	}
	want := Record{"id": "a", "name": "Alice", "age": 31.0, "city": "Paris"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EditOne() = %v, want %v", got, want)
	}
	if got, _ := s.ViewOne(ctx, "users", "a"); !reflect.DeepEqual(got, want) {
		t.Fatalf("ViewOne() = %v, want %v", got, want)
	}
	if _, err := s.EditOne(ctx, "users", "missing", Record{}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("EditOne() = %v, want RecordNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := t.Context()
	t.Run("one", func(t *testing.T) {
		s := newTestStore(t, Options{})
		if _, err := s.AddAll(ctx, "users", []Record{{"id": "a"}, {"id": "b"}}, AddAllOptions{}); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteOne(ctx, "users", "a"); err != nil {
			t.Fatal(err)
		}
		all, _ := s.ViewAll(ctx, "users")
		if got := ids(all); !slices.Equal(got, []string{"b"}) {
			t.Fatalf("ids = %v", got)
		}
		if err := s.DeleteOne(ctx, "users", "a"); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("DeleteOne() = %v, want RecordNotFound", err)
		}
	})
	t.Run("all", func(t *testing.T) {
		s := newTestStore(t, Options{Indexes: map[string][]string{"users": {"email"}}})
		if _, err := s.AddOne(ctx, "users", Record{"id": "a", "email": "a@x"}); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteAll(ctx, "users"); err != nil {
			t.Fatal(err)
		}
		path, _ := s.Path("users")
		if rows := readJSON(t, path); len(rows) != 0 {
			t.Fatalf("rows = %v", rows)
		}
		if _, err := os.Stat(filepath.Join(s.IndexDir(), "users", "email.json")); !os.IsNotExist(err) {
			t.Fatalf("index not dropped: %v", err)
		}
	})
}

func TestStore_ViewAll(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{})
	t.Run("missing", func(t *testing.T) {
		all, err := s.ViewAll(ctx, "nothing")
		if err != nil || len(all) != 0 {
			t.Fatalf("ViewAll() = %v, %v", all, err)
		}
		if _, err := s.ViewOne(ctx, "nothing", "a"); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("ViewOne() = %v, want RecordNotFound", err)
		}
	})
	t.Run("corrupt", func(t *testing.T) {
		for name, content := range map[string]string{
			"garbage": "{not json",
			"object":  `{"id":"a"}`,
			"null":    `[null]`,
			"badid":   `[{"id":1}]`,
		} {
			if err := os.WriteFile(filepath.Join(s.Root(), name+".json"), []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := s.ViewAll(ctx, name); !errors.Is(err, ErrInvalidData) {
				t.Errorf("%s: ViewAll() = %v, want InvalidData", name, err)
			}
			if _, err := s.AddOne(ctx, name, Record{}); !errors.Is(err, ErrInvalidData) {
				t.Errorf("%s: AddOne() = %v, want InvalidData", name, err)
			}
		}
	})
	t.Run("directory", func(t *testing.T) {
		if err := os.Mkdir(filepath.Join(s.Root(), "dir.json"), 0o755); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ViewAll(ctx, "dir"); !errors.Is(err, ErrIO) {
			t.Fatalf("ViewAll() = %v, want IOError", err)
		}
	})
	t.Run("invalid name", func(t *testing.T) {
		for _, name := range []string{"", "../escape", "/abs", ".hidden", "a/../../b", "_indexes/users"} {
			if _, err := s.ViewAll(ctx, name); !errors.Is(err, ErrOperationFailed) {
				t.Errorf("ViewAll(%q) = %v, want OperationFailed", name, err)
			}
		}
	})
}

func TestStore_LockTimeout(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{LockTimeout: 20 * time.Millisecond})
	path, err := s.Path("users")
	if err != nil {
		t.Fatal(err)
	}
	release, err := s.locks.Acquire(ctx, path, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.AddOne(ctx, "users", Record{"id": "a"})
	if !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("AddOne() = %v, want OperationFailed", err)
	}
	// Reads do not lock.
	if all, err := s.ViewAll(ctx, "users"); err != nil || len(all) != 0 {
		t.Fatalf("ViewAll() = %v, %v", all, err)
	}
	release()
	if _, err := s.AddOne(ctx, "users", Record{"id": "a"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestStore_Validator(t *testing.T) {
	ctx := t.Context()
	v := ValidatorFunc(func(collection string, r Record) error {
		if _, ok := r["name"].(string); !ok {
			return fmt.Errorf("%s: name is required", collection)
		}
		return nil
	})
	s := newTestStore(t, Options{Validator: v})
	if _, err := s.AddOne(ctx, "users", Record{"age": 3}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("AddOne() = %v, want InvalidData", err)
	}
	path, _ := s.Path("users")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file written: %v", err)
	}
	if _, err := s.AddOne(ctx, "users", Record{"id": "a", "name": "Alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EditOne(ctx, "users", "a", Record{"name": nil}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("EditOne() = %v, want InvalidData", err)
	}
	if _, err := s.AddAll(ctx, "people", []Record{{"name": "x"}, {}}, AddAllOptions{}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("AddAll() = %v, want InvalidData", err)
	}
}

func TestStore_Concurrent(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{Indexes: map[string][]string{"users": {"group"}}})
	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Go(func() {
			_, err := s.AddOne(ctx, "users", Record{"n": i, "group": i % 3})
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.ViewAll(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	got := ids(all)
	slices.Sort(got)
	if len(slices.Compact(got)) != n {
		t.Fatalf("%d distinct ids, want %d", len(got), n)
	}
	total := 0
	for g := range 3 {
		found, err := s.Find(ctx, "users", "group", g)
		if err != nil {
			t.Fatal(err)
		}
		total += len(found)
	}
	if total != n {
		t.Fatalf("index covers %d records, want %d", total, n)
	}
}

func TestStore_Indexes(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{Indexes: map[string][]string{"users": {"email", "city"}}})
	_, err := s.AddAll(ctx, "users", []Record{
		{"id": "a", "email": "a@x", "city": "Paris"},
		{"id": "b", "email": "b@x", "city": "Paris"},
	}, AddAllOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddOne(ctx, "users", Record{"id": "c", "email": "c@x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EditOne(ctx, "users", "b", Record{"city": "Rome"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteOne(ctx, "users", "a"); err != nil {
		t.Fatal(err)
	}
	check := func(t *testing.T) {
		t.Helper()
		city, err := s.idx.Load(ctx, "users", "city")
		if err != nil {
			t.Fatal(err)
		}
		if want := map[string][]string{"Rome": {"b"}}; !reflect.DeepEqual(map[string][]string(city), want) {
			t.Fatalf("city index = %v, want %v", city, want)
		}
		email, err := s.idx.Load(ctx, "users", "email")
		if err != nil {
			t.Fatal(err)
		}
		if want := map[string][]string{"b@x": {"b"}, "c@x": {"c"}}; !reflect.DeepEqual(map[string][]string(email), want) {
			t.Fatalf("email index = %v, want %v", email, want)
		}
	}
	check(t)
	found, err := s.Find(ctx, "users", "email", "c@x")
	if err != nil || !slices.Equal(ids(found), []string{"c"}) {
		t.Fatalf("Find() = %v, %v", found, err)
	}
	if found, _ := s.Find(ctx, "users", "email", "a@x"); len(found) != 0 {
		t.Fatalf("deleted record found: %v", found)
	}
	t.Run("scan", func(t *testing.T) {
		found, err := s.Find(ctx, "users", "missing", nil)
		if err != nil || len(found) != 0 {
			t.Fatalf("Find() = %v, %v", found, err)
		}
		found, err = s.Find(ctx, "users", "id", "b")
		if err != nil || !slices.Equal(ids(found), []string{"b"}) {
			t.Fatalf("Find(id) = %v, %v", found, err)
		}
	})
	t.Run("reindex", func(t *testing.T) {
		if err := os.RemoveAll(filepath.Join(s.IndexDir(), "users")); err != nil {
			t.Fatal(err)
		}
		if err := s.Reindex(ctx, "users"); err != nil {
			t.Fatal(err)
		}
		check(t)
	})
	t.Run("corrupt", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(s.IndexDir(), "users", "email.json"), []byte("{"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Find(ctx, "users", "email", "b@x"); !errors.Is(err, ErrInvalidData) {
			t.Fatalf("Find() = %v, want InvalidData", err)
		}
		// A mutation rebuilds the broken index.
		if _, err := s.EditOne(ctx, "users", "c", Record{"email": "new@x"}); err != nil {
			t.Fatal(err)
		}
		found, err := s.Find(ctx, "users", "email", "new@x")
		if err != nil || !slices.Equal(ids(found), []string{"c"}) {
			t.Fatalf("Find() = %v, %v", found, err)
		}
	})
}

func TestStore_Cache(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{Cache: CacheOptions{Enabled: true}})
	if _, err := s.AddOne(ctx, "users", Record{"id": "a", "v": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ViewOne(ctx, "users", "a"); err != nil {
		t.Fatal(err)
	}
	if s.cache.len() == 0 {
		t.Fatal("nothing cached")
	}
	// Writes through the store invalidate.
	if _, err := s.EditOne(ctx, "users", "a", Record{"v": 2}); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ViewOne(ctx, "users", "a"); got["v"] != 2.0 {
		t.Fatalf("stale read after write: %v", got)
	}
	// External edits are seen after Invalidate.
	path, _ := s.Path("users")
	if err := os.WriteFile(path, []byte(`[{"id":"a","v":3}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ViewOne(ctx, "users", "a"); got["v"] != 2.0 {
		t.Fatalf("expected cached value, got %v", got)
	}
	s.Invalidate(path)
	if got, _ := s.ViewOne(ctx, "users", "a"); got["v"] != 3.0 {
		t.Fatalf("Invalidate() ignored: %v", got)
	}
	// Callers cannot corrupt the cache.
	all, _ := s.ViewAll(ctx, "users")
	all[0]["v"] = "mutated"
	if got, _ := s.ViewAll(ctx, "users"); got[0]["v"] != 3.0 {
		t.Fatalf("cache aliased: %v", got)
	}
	s.InvalidateAll()
	if s.cache.len() != 0 {
		t.Fatal("InvalidateAll() kept entries")
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i := range r.events {
		out[i] = r.events[i].Name()
	}
	return out
}

func TestStore_Events(t *testing.T) {
	ctx := t.Context()
	rec := &recorder{}
	s, err := Open(Options{Root: t.TempDir(), Listeners: []Listener{rec}})
	if err != nil {
		t.Fatal(err)
	}
	r, err := s.AddOne(ctx, "users", Record{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ViewOne(ctx, "users", "missing"); err == nil {
		t.Fatal("expected error")
	}
	s.Subscribe(ListenerFunc(func(context.Context, Event) { panic("boom") }))
	if _, err := s.ViewAll(ctx, "users"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	want := []string{"before:addOne", "write", "after:addOne", "before:viewOne", "error:viewOne", "before:viewAll", "after:viewAll"}
	if got := rec.names(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	ev := rec.events[1]
	if ev.Collection != "users" || ev.Path != filepath.Join(s.Root(), "users.json") {
		t.Fatalf("write event = %+v", ev)
	}
	if ev := rec.events[2]; ev.ID != r.ID() {
		t.Fatalf("after event id = %q, want %q", ev.ID, r.ID())
	}
	if ev := rec.events[4]; !errors.Is(ev.Err, ErrRecordNotFound) {
		t.Fatalf("error event = %+v", ev)
	}
	var e *Error
	if !errors.As(rec.events[4].Err, &e) || e.Op != string(OpViewOne) {
		t.Fatalf("error op = %+v", e)
	}
}

func TestStore_Collections(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{
		Indexes: map[string][]string{"users": {"email"}},
		Backup:  BackupOptions{Enabled: true},
	})
	for _, c := range []string{"users", "users", "teams/a"} {
		if _, err := s.AddOne(ctx, c, Record{"email": "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Root(), "notes.txt"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := s.Collections()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"teams/a", "users"}; !slices.Equal(got, want) {
		t.Fatalf("Collections() = %v, want %v", got, want)
	}
}

func TestStore_Backup(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{Backup: BackupOptions{Enabled: true, Suffix: ".old", Policy: atomicfile.PolicyAlways}})
	if _, err := s.AddOne(ctx, "users", Record{"id": "a"}); err != nil {
		t.Fatal(err)
	}
	path, _ := s.Path("users")
	if _, err := os.Stat(path + ".old"); !os.IsNotExist(err) {
		t.Fatalf("backup of a new file: %v", err)
	}
	if _, err := s.AddOne(ctx, "users", Record{"id": "b"}); err != nil {
		t.Fatal(err)
	}
	if rows := readJSON(t, path+".old"); len(rows) != 1 || rows[0]["id"] != "a" {
		t.Fatalf("backup = %v", rows)
	}
}

func TestStore_Codecs(t *testing.T) {
	ctx := t.Context()
	records := []Record{
		{"id": "a", "n": 1.5, "tags": []any{"x", "y"}, "nested": map[string]any{"k": true}, "none": nil},
		{"id": "b", "n": 2.0, "s": "text"},
	}
	for _, c := range []Codec{JSONCodec{}, JSONLCodec{}, BSONCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			s := newTestStore(t, Options{Codec: c})
			if _, err := s.AddAll(ctx, "things", records, AddAllOptions{}); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(filepath.Join(s.Root(), "things"+c.Ext())); err != nil {
				t.Fatal(err)
			}
			got, err := s.ViewAll(ctx, "things")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, records) {
				t.Fatalf("ViewAll() = %#v\nwant %#v", got, records)
			}
		})
	}
}

func TestStore_IndexLockTimeout(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, Options{LockTimeout: 50 * time.Millisecond, Indexes: map[string][]string{"users": {"email"}}})
	release, err := s.locks.Acquire(ctx, s.idx.Path("users", "email"), 0)
	if err != nil {
		t.Fatal(err)
	}
	// The data file commits even though the index cannot be written.
	out, err := s.AddAll(ctx, "users", []Record{{"id": "u1", "email": "a@x"}}, AddAllOptions{})
	if err != nil || !slices.Equal(ids(out), []string{"u1"}) {
		t.Fatalf("AddAll() = %v, %v", out, err)
	}
	if _, err := s.EditAll(ctx, "users", []Record{{"id": "u1", "email": "b@x"}}); err != nil {
		t.Fatalf("EditAll() = %v", err)
	}
	if err := s.DeleteAll(ctx, "users"); err != nil {
		t.Fatalf("DeleteAll() = %v", err)
	}
	release()
	if _, err := s.AddAll(ctx, "users", []Record{{"id": "u2", "email": "c@x"}}, AddAllOptions{Overwrite: true}); err != nil {
		t.Fatal(err)
	}
	found, err := s.Find(ctx, "users", "email", "c@x")
	if err != nil || !slices.Equal(ids(found), []string{"u2"}) {
		t.Fatalf("Find() = %v, %v", ids(found), err)
	}
}
