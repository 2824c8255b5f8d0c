// Package history records every collection write as a git commit, using
// go-git (pure Go, no git binary dependency).
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/maruel/docdb/internal/docstore"
)

// Default commit identity.
const (
	DefaultName  = "docdb"
	DefaultEmail = "docdb@localhost"
)

// Commit is one entry of a file history.
type Commit struct {
	Hash        string
	Message     string
	Body        string
	Author      string
	AuthorEmail string
	AuthorDate  time.Time
}

// Repo is a git repository rooted at the store directory. It implements
// docstore.Listener.
type Repo struct {
	dir    string
	name   string
	email  string
	logger *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository at dir, initializing it if needed.
func Open(dir, name, email string, logger *slog.Logger) (*Repo, error) {
	if name == "" {
		name = DefaultName
	}
	if email == "" {
		email = DefaultEmail
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Repo{dir: dir, name: name, email: email, logger: logger, repo: repo}, nil
}

// HandleEvent commits the file of every collection write.
func (r *Repo) HandleEvent(ctx context.Context, ev docstore.Event) {
	if ev.Op != docstore.OpWrite || ev.Collection == "" {
		return
	}
	rel, err := filepath.Rel(r.dir, ev.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	msg := fmt.Sprintf("Update %s\n\nWritten at %s.", ev.Collection, ev.Time.UTC().Format(time.RFC3339Nano))
	if err := r.Commit(ctx, msg, filepath.ToSlash(rel)); err != nil {
		r.logger.WarnContext(ctx, "Failed to commit write", "collection", ev.Collection, "err", err)
	}
}

// Commit stages files, relative to the repository root, and commits them
// when they changed.
func (r *Repo) Commit(_ context.Context, msg string, files ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(files) == 0 {
		return nil
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, f := range files {
		if _, err := w.Add(f); err != nil {
			return fmt.Errorf("failed to stage files: %w", err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	staged := false
	for _, f := range files {
		if s := status.File(f); s.Staging != gogit.Unmodified && s.Staging != gogit.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return nil
	}
	sig := &object.Signature{Name: r.name, Email: r.email, When: time.Now()}
	if _, err = w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CommitCount returns the total number of commits in the repository.
func (r *Repo) CommitCount(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()
	n := 0
	for {
		if _, err := iter.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return 0, fmt.Errorf("failed to walk log: %w", err)
		}
		n++
	}
}

// History returns up to n commits touching path, newest first.
func (r *Repo) History(_ context.Context, path string, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	opts := &gogit.LogOptions{}
	if path != "" && path != "." {
		p := filepath.ToSlash(path)
		opts.FileName = &p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	iter, err := r.repo.Log(opts)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()
	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk log: %w", err)
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:        c.Hash.String(),
			Message:     subject,
			Body:        strings.TrimSpace(body),
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			AuthorDate:  c.Author.When,
		})
	}
	return commits, nil
}

// FileAt returns the content of path at commit hash, or at HEAD when hash is
// "HEAD".
func (r *Repo) FileAt(_ context.Context, hash, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	f, err := c.File(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}
