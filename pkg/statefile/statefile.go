// Package statefile persists a single JSON document on the local
// filesystem, guarded by a sidecar advisory lock so that many independent
// processes can safely share it. Every mutation is a full
// lock/load/mutate/atomic-replace cycle; the whole document is the unit
// of both locking and durability.
package statefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// DefaultLockTimeout bounds how long Update waits for the lock before
	// failing loudly.
	DefaultLockTimeout = 5 * time.Second

	// lockRetryInterval is the poll interval while waiting for the lock.
	lockRetryInterval = 10 * time.Millisecond
)

// ErrLockTimeout is returned when the exclusive lock cannot be acquired
// within the configured window. Callers should retry later or investigate
// a stuck holder rather than treat this as data corruption.
var ErrLockTimeout = errors.New("statefile: lock acquisition timed out")

// Store mediates access to one document file. The lock marker lives next
// to the document (same base name, ".lock" suffix) and carries no payload.
// Exclusion needs both locks: the flock fences other processes, while mu
// serializes goroutines sharing this Store (the flock is per instance, so
// it cannot see a sibling goroutine already holding it).
type Store struct {
	path        string
	mu          sync.Mutex
	lock        *flock.Flock
	lockTimeout time.Duration
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

func New(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &Store{
		path:        abs,
		lock:        flock.New(lockPath(abs)),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func lockPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".lock"
}

// Path returns the absolute path of the document file.
func (s *Store) Path() string {
	return s.path
}

// LockPath returns the absolute path of the sidecar lock marker.
func (s *Store) LockPath() string {
	return s.lock.Path()
}

// Update acquires the exclusive lock, reads the current document (nil if
// the file does not exist yet) and passes it to fn. A non-nil result is
// written back via a temp-file-then-rename sequence so the previous file
// stays intact on any failure; a nil result commits nothing.
func (s *Store) Update(ctx context.Context, fn func(data []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (waited %s for %s)", ErrLockTimeout, s.lockTimeout, s.lock.Path())
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		data = nil
	}

	out, err := fn(data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return s.writeAtomic(out)
}

// View reads the document without taking the lock. Readers may observe a
// state that a concurrent Update is about to replace; the atomic rename
// guarantees they never observe a partial write.
func (s *Store) View(fn func(data []byte) error) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		data = nil
	}
	return fn(data)
}

func (s *Store) writeAtomic(data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
