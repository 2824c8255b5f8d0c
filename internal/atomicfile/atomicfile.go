// Package atomicfile replaces file contents with crash-consistent semantics.
//
// [Writer.Write] writes to a fresh temporary sibling, syncs it and renames it
// onto the target, so a reader sees either the previous content or the new
// one, never a mix. Mutual exclusion between writers is the caller's job.
package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer durably replaces files.
type Writer struct {
	// Perm is the mode of newly written files. Zero means 0o644.
	Perm os.FileMode
	// Backup optionally copies the previous content aside before a replace.
	Backup *Backup
	// OnWrite is called with the target path after every successful rename.
	OnWrite func(path string)
	// Logger receives non-fatal failures. Nil means slog.Default().
	Logger *slog.Logger

	// beforeRename is a test hook run after the temporary file is synced.
	beforeRename func(tmp string) error
}

// Write replaces path with data.
//
// The parent directory is created if needed. On any failure before the rename
// the temporary file is removed and the target is left untouched.
func (w *Writer) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directories are world-readable
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if w.Backup != nil {
		if err := w.Backup.save(path); err != nil {
			return err
		}
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	if err := writeSync(f, data); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	if err := os.Chmod(tmp, w.perm()); err != nil {
		return errors.Join(fmt.Errorf("failed to chmod temp file: %w", err), os.Remove(tmp))
	}
	if w.beforeRename != nil {
		if err := w.beforeRename(tmp); err != nil {
			return errors.Join(err, os.Remove(tmp))
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename temp file onto %s: %w", path, err), os.Remove(tmp))
	}
	// Persist the rename itself. Not every platform supports syncing a
	// directory, so a failure here only gets logged.
	if err := syncDir(dir); err != nil {
		w.logger().Debug("failed to sync directory", "dir", dir, "err", err)
	}
	if w.OnWrite != nil {
		w.OnWrite(path)
	}
	return nil
}

func (w *Writer) perm() os.FileMode {
	if w.Perm == 0 {
		return 0o644
	}
	return w.Perm
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

func writeSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304: dir is derived from the store root
	if err != nil {
		return err
	}
	return errors.Join(d.Sync(), d.Close())
}

// copyFile copies src to dst through a temporary sibling of dst.
func copyFile(dst, src string, perm os.FileMode) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is a collection file under the store root
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := out.Name()
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Join(err, os.Remove(tmp))
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return errors.Join(err, os.Remove(tmp))
	}
	if err := out.Close(); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	if err := os.Rename(tmp, dst); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return nil
}
