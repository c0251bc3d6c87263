// Package filestore keeps the queue state in a JSON file guarded by an
// advisory lock on a sibling ".lock" file, so several processes on one host
// can share a queue.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "queues.json"

// Store implements jobqueue.Store on top of a single file.
// Readers take a shared lock, writers an exclusive one. The file is replaced
// through a rename so readers never see a partial write from this package.
type Store struct {
	path              string
	lockPath          string
	readAttempts      int
	readRetryInterval time.Duration
	lockRetryDelay    time.Duration
	fileMode          os.FileMode
	logger            *slog.Logger
}

var _ jobqueue.Store = (*Store)(nil)

// New creates a store for the file at path. The file is created on first use.
func New(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultPath
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Discard()
	}

	return &Store{
		path:              path,
		lockPath:          path + ".lock",
		readAttempts:      o.readAttempts,
		readRetryInterval: o.readRetryInterval,
		lockRetryDelay:    o.lockRetryDelay,
		fileMode:          o.fileMode,
		logger:            o.logger.With(logger.Component("filestore"), slog.String("path", path)),
	}
}

// NewFromConfig creates a store from cfg; opts are applied after the config.
func NewFromConfig(cfg Config, opts ...Option) *Store {
	return New(cfg.Path, append(FromConfig(cfg), opts...)...)
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return s.path
}

// Read implements jobqueue.Store. The shared lock is taken per attempt, so a
// writer can replace an undecodable file between retries.
func (s *Store) Read(ctx context.Context) (*jobqueue.State, error) {
	st, err := jobqueue.ReadRetry(ctx, s.readAttempts, s.readRetryInterval, func(ctx context.Context) (data []byte, err error) {
		err = s.withLock(ctx, false, func() (err error) {
			data, err = s.readFile()
			return err
		})
		return data, err
	})
	if errors.Is(err, fs.ErrNotExist) {
		// creating the file needs the exclusive lock
		return s.initialise(ctx)
	}
	if err != nil {
		s.logCorrupt(ctx, err, s.readAttempts)
		return nil, err
	}
	return st, nil
}

// Write implements jobqueue.Store.
func (s *Store) Write(ctx context.Context, st *jobqueue.State) error {
	return s.withLock(ctx, true, func() error {
		return s.save(st)
	})
}

// Update implements jobqueue.Store. fn runs exactly once while the exclusive
// lock is held.
func (s *Store) Update(ctx context.Context, fn func(st *jobqueue.State) error) error {
	return s.withLock(ctx, true, func() error {
		st, err := s.loadLocked(ctx)
		if errors.Is(err, fs.ErrNotExist) {
			st, err = jobqueue.NewState(), nil
		}
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		return s.save(st)
	})
}

func (s *Store) initialise(ctx context.Context) (*jobqueue.State, error) {
	var st *jobqueue.State
	err := s.withLock(ctx, true, func() (err error) {
		st, err = s.loadLocked(ctx)
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		s.logger.DebugContext(ctx, "creating empty queue file")
		st = jobqueue.NewState()
		return s.save(st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// loadLocked decodes the file once. Under the exclusive lock no writer can
// change the file, so retrying would not help.
func (s *Store) loadLocked(ctx context.Context) (*jobqueue.State, error) {
	data, err := s.readFile()
	if err != nil {
		return nil, err
	}
	st, err := jobqueue.DecodeState(data)
	if err != nil {
		err = errors.Join(jobqueue.ErrStoreCorrupt, err)
		s.logCorrupt(ctx, err, 1)
		return nil, err
	}
	return st, nil
}

// readFile must be called with a lock held. A missing file yields fs.ErrNotExist.
func (s *Store) readFile() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}
	return data, err
}

func (s *Store) logCorrupt(ctx context.Context, err error, attempts int) {
	if errors.Is(err, jobqueue.ErrStoreCorrupt) {
		s.logger.ErrorContext(ctx, "queue file could not be decoded",
			slog.Int("attempts", attempts),
			logger.Error(err))
	}
}

// save must be called with the exclusive lock held.
func (s *Store) save(st *jobqueue.State) error {
	data, err := jobqueue.EncodeState(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary queue file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close queue file: %w", err)
	}
	if err := os.Chmod(tmpName, s.fileMode); err != nil {
		return fmt.Errorf("failed to set queue file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}

// withLock runs fn while holding the lock file. Every call opens its own
// descriptor, so goroutines of one process exclude each other as well.
func (s *Store) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	lk := flock.New(s.lockPath)
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = lk.TryLockContext(ctx, s.lockRetryDelay)
	} else {
		locked, err = lk.TryRLockContext(ctx, s.lockRetryDelay)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ErrLockNotAcquired, ctxErr)
		}
		return errors.Join(ErrLockNotAcquired, err)
	}
	if !locked {
		return ErrLockNotAcquired
	}
	defer func() {
		if err := lk.Unlock(); err != nil {
			s.logger.Warn("failed to release queue file lock", logger.Error(err))
		}
	}()

	return fn()
}
