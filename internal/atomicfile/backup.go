// Copies the previous content of a file aside before it is replaced.

package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBackupSuffix is appended to the target path to name its backup.
const DefaultBackupSuffix = ".bak"

// Policy decides when an overwrite triggers a backup.
type Policy string

const (
	// PolicyAlways backs up before every overwrite.
	PolicyAlways Policy = "always"
	// PolicyInterval backs up at most once per Interval for a given path.
	PolicyInterval Policy = "interval"
)

// Validate checks that the policy is known.
func (p Policy) Validate() error {
	switch p {
	case PolicyAlways, PolicyInterval:
		return nil
	default:
		return fmt.Errorf("unknown backup policy %q", p)
	}
}

// Backup writes <target><Suffix> before the target is replaced.
//
// Files that do not exist yet are never backed up.
type Backup struct {
	Suffix   string
	Policy   Policy
	Interval time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewBackup returns a Backup with defaults applied.
func NewBackup(suffix string, policy Policy, interval time.Duration) (*Backup, error) {
	if suffix == "" {
		suffix = DefaultBackupSuffix
	}
	if policy == "" {
		policy = PolicyAlways
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy == PolicyInterval && interval <= 0 {
		return nil, errors.New("backup interval must be positive")
	}
	return &Backup{Suffix: suffix, Policy: policy, Interval: interval}, nil
}

// Path returns the backup path for target.
func (b *Backup) Path(target string) string {
	return target + b.Suffix
}

// due reports whether target should be backed up now.
func (b *Backup) due(target string) bool {
	if b.Policy != PolicyInterval {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buckets == nil {
		b.buckets = make(map[string]*rate.Limiter)
	}
	l, ok := b.buckets[target]
	if !ok {
		l = rate.NewLimiter(rate.Every(b.Interval), 1)
		b.buckets[target] = l
	}
	return l.Allow()
}

func (b *Backup) save(target string) error {
	fi, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", target, err)
	}
	if !fi.Mode().IsRegular() || !b.due(target) {
		return nil
	}
	if err := copyFile(b.Path(target), target, fi.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to back up %s: %w", target, err)
	}
	return nil
}
