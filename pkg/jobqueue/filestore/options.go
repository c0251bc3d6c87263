package filestore

import (
	"log/slog"
	"os"
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
)

// Config holds the file store settings.
type Config struct {
	Path              string        `env:"JOBQUEUE_FILE_PATH" envDefault:"queues.json"`
	ReadAttempts      int           `env:"JOBQUEUE_FILE_READ_ATTEMPTS" envDefault:"255"`
	ReadRetryInterval time.Duration `env:"JOBQUEUE_FILE_READ_RETRY_INTERVAL" envDefault:"10ms"`
	LockRetryDelay    time.Duration `env:"JOBQUEUE_FILE_LOCK_RETRY_DELAY" envDefault:"50ms"`
}

// Option is a functional option for configuring the store
type Option func(*options)

type options struct {
	readAttempts      int
	readRetryInterval time.Duration
	lockRetryDelay    time.Duration
	fileMode          os.FileMode
	logger            *slog.Logger
}

func defaultOptions() *options {
	return &options{
		readAttempts:      jobqueue.DefaultReadAttempts,
		readRetryInterval: 10 * time.Millisecond,
		lockRetryDelay:    50 * time.Millisecond,
		fileMode:          0o644,
	}
}

// WithReadAttempts bounds how often an undecodable file is re-read
func WithReadAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readAttempts = n
		}
	}
}

// WithReadRetryInterval sets the pause between reads of an undecodable file
func WithReadRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.readRetryInterval = d
		}
	}
}

// WithLockRetryDelay sets how often a busy lock file is polled
func WithLockRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockRetryDelay = d
		}
	}
}

// WithFileMode sets the permissions of the state file
func WithFileMode(mode os.FileMode) Option {
	return func(o *options) {
		if mode != 0 {
			o.fileMode = mode
		}
	}
}

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// FromConfig converts cfg into options. Zero values keep the defaults.
func FromConfig(cfg Config) []Option {
	return []Option{
		WithReadAttempts(cfg.ReadAttempts),
		WithReadRetryInterval(cfg.ReadRetryInterval),
		WithLockRetryDelay(cfg.LockRetryDelay),
	}
}
