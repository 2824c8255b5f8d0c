// Package watch invalidates the store cache when collection files change
// outside of the store.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Invalidator drops cached state. *docstore.Store implements it.
type Invalidator interface {
	Invalidate(path string)
	InvalidateAll()
}

// Options configures a Watcher.
type Options struct {
	// Root is the directory tree to watch.
	Root string
	// Ext is the collection file suffix; other files are ignored.
	Ext string
	// Skip lists directories not to watch, such as the index directory.
	Skip []string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher forwards file changes under a root to an Invalidator.
type Watcher struct {
	opts Options
	inv  Invalidator
	w    *fsnotify.Watcher
	done chan struct{}
}

// New starts watching opts.Root and its subdirectories. It stops when ctx is
// canceled or Close is called.
func New(ctx context.Context, opts Options, inv Invalidator) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	wt := &Watcher{opts: opts, inv: inv, w: w, done: make(chan struct{})}
	if err := wt.addTree(opts.Root); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	go wt.run(ctx)
	return wt, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (wt *Watcher) Close() error {
	err := wt.w.Close()
	<-wt.done
	return err
}

func (wt *Watcher) skipped(dir string) bool {
	if dir != wt.opts.Root && strings.HasPrefix(filepath.Base(dir), ".") {
		return true
	}
	for _, s := range wt.opts.Skip {
		if filepath.Clean(s) == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

func (wt *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if wt.skipped(p) {
			return filepath.SkipDir
		}
		return wt.w.Add(p)
	})
}

// relevant reports whether name is a collection file.
func (wt *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && strings.HasSuffix(base, wt.opts.Ext)
}

func (wt *Watcher) run(ctx context.Context) {
	defer close(wt.done)
	defer func() { _ = wt.w.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-wt.w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && !wt.skipped(event.Name) {
					if err := wt.addTree(event.Name); err != nil {
						wt.opts.Logger.WarnContext(ctx, "Failed to watch directory", "path", event.Name, "err", err)
					}
					// Files may have been created before the watch was added.
					wt.inv.InvalidateAll()
					continue
				}
			}
			if !wt.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				wt.opts.Logger.DebugContext(ctx, "Collection file changed", "path", event.Name, "op", event.Op.String())
				wt.inv.Invalidate(event.Name)
			}
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}
			// Events may have been lost.
			wt.opts.Logger.WarnContext(ctx, "Error watching data directory", "err", err)
			wt.inv.InvalidateAll()
		}
	}
}
