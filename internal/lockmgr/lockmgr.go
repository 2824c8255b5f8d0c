// Package lockmgr serializes mutations per logical resource path.
//
// A [Manager] keeps a table from canonical path to a FIFO queue of waiters.
// At most one caller holds a path at a time; on release ownership is handed
// directly to the oldest waiter. The guarantee is process-local: nothing stops
// another process from touching the same file.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// ErrTimeout is returned by [Manager.Acquire] when the lock could not be
// obtained before the deadline. The caller had no effect and may retry.
var ErrTimeout = errors.New("lock wait timed out")

// DefaultTimeout is used when Acquire is called with a zero timeout.
const DefaultTimeout = 5 * time.Second

// Release gives up a lock obtained from [Manager.Acquire]. Calling it more
// than once is a no-op.
type Release func()

// Manager is a table of per-path locks. The zero value is not usable; use
// [New].
type Manager struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

// pathLock is the state for one path. held stays true while ownership passes
// from one holder to the next waiter.
type pathLock struct {
	held    bool
	waiters []chan struct{}
}

// New returns an empty lock table.
func New() *Manager {
	return &Manager{locks: make(map[string]*pathLock)}
}

// Canonical returns the key under which path is locked.
func Canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Acquire blocks until the caller holds path, ctx is done or timeout elapses.
//
// A zero timeout means [DefaultTimeout]; a negative one waits for ctx only.
func (m *Manager) Acquire(ctx context.Context, path string, timeout time.Duration) (Release, error) {
	key := Canonical(path)

	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &pathLock{}
		m.locks[key] = l
	}
	if !l.held {
		l.held = true
		m.mu.Unlock()
		return m.release(key, l), nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	m.mu.Unlock()

	if timeout == 0 {
		timeout = DefaultTimeout
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	var cause error
	select {
	case <-ready:
		return m.release(key, l), nil
	case <-expired:
		cause = fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, key)
	case <-ctx.Done():
		cause = fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
	}

	m.mu.Lock()
	for i, w := range l.waiters {
		if w == ready {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			m.mu.Unlock()
			return nil, cause
		}
	}
	m.mu.Unlock()
	// Ownership was handed over while we were giving up; pass it on.
	m.release(key, l)()
	return nil, cause
}

func (m *Manager) release(key string, l *pathLock) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if len(l.waiters) > 0 {
				next := l.waiters[0]
				l.waiters = l.waiters[1:]
				close(next)
				return
			}
			l.held = false
			delete(m.locks, key)
		})
	}
}

// Held reports whether path is currently locked.
func (m *Manager) Held(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[Canonical(path)]
	return l != nil && l.held
}

// Len returns the number of paths currently locked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// With runs fn while holding path.
func (m *Manager) With(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	release, err := m.Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
