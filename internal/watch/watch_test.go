package watch

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type invalidations struct {
	mu    sync.Mutex
	paths []string
	all   int
}

func (i *invalidations) Invalidate(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paths = append(i.paths, path)
}

func (i *invalidations) InvalidateAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.all++
}

func (i *invalidations) has(path string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Contains(i.paths, path)
}

func (i *invalidations) allCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.all
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher(t *testing.T) {
	root := t.TempDir()
	skip := filepath.Join(root, "_indexes")
	if err := os.Mkdir(skip, 0o755); err != nil {
		t.Fatal(err)
	}
	inv := &invalidations{}
	w, err := New(t.Context(), Options{Root: root, Ext: ".json", Skip: []string{skip}}, inv)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			t.Error(err)
		}
	}()
	users := filepath.Join(root, "users.json")
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skip, "users.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(users, []byte("[]"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return inv.has(users) })

	sub := filepath.Join(root, "teams")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return inv.allCount() > 0 })
	nested := filepath.Join(sub, "a.json")
	if err := os.WriteFile(nested, []byte("[]"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return inv.has(nested) })

	if inv.has(filepath.Join(root, "notes.txt")) || inv.has(filepath.Join(skip, "users.json")) {
		t.Fatalf("irrelevant paths invalidated: %v", inv.paths)
	}
}
