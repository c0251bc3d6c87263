// Package redisstore keeps the queue state as one JSON string in Redis.
// Updates are optimistic WATCH/MULTI transactions retried on conflict.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// DefaultKey is the key used when none is configured.
const DefaultKey = "jobqueue:state"

// Store implements jobqueue.Store on a Redis key.
type Store struct {
	client            redis.UniversalClient
	key               string
	readAttempts      int
	readRetryInterval time.Duration
	maxRetries        int
	logger            *slog.Logger
}

var _ jobqueue.Store = (*Store)(nil)

// Option is a functional option for configuring the store
type Option func(*Store)

// WithKey sets the key holding the state document
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithReadAttempts bounds how often an undecodable value is re-read
func WithReadAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.readAttempts = n
		}
	}
}

// WithReadRetryInterval sets the pause between reads of an undecodable value
func WithReadRetryInterval(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.readRetryInterval = d
		}
	}
}

// WithMaxRetries bounds how often a conflicting update is retried
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithLogger sets the logger for the store
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:       client,
		key:          DefaultKey,
		readAttempts: jobqueue.DefaultReadAttempts,
		maxRetries:   50,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("redisstore"), slog.String("key", s.key))
	return s
}

// NewFromConfig creates a store using the key and retry budget from cfg.
func NewFromConfig(client redis.UniversalClient, cfg Config, opts ...Option) *Store {
	return New(client, append([]Option{WithKey(cfg.Key), WithMaxRetries(cfg.MaxUpdateRetries)}, opts...)...)
}

// Read implements jobqueue.Store. A missing key is initialised with an empty state.
func (s *Store) Read(ctx context.Context) (*jobqueue.State, error) {
	st, missing, err := s.load(ctx, s.client)
	if err != nil {
		return nil, err
	}
	if missing {
		data, err := jobqueue.EncodeState(st)
		if err != nil {
			return nil, err
		}
		if err := s.client.SetNX(ctx, s.key, data, 0).Err(); err != nil {
			return nil, fmt.Errorf("failed to initialise queue state: %w", err)
		}
	}
	return st, nil
}

// Write implements jobqueue.Store.
func (s *Store) Write(ctx context.Context, st *jobqueue.State) error {
	data, err := jobqueue.EncodeState(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	return nil
}

// Update implements jobqueue.Store. fn runs once per optimistic attempt;
// ErrConflict is returned when every attempt lost the race.
func (s *Store) Update(ctx context.Context, fn func(st *jobqueue.State) error) error {
	for attempt := range s.maxRetries {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			st, _, err := s.load(ctx, tx)
			if err != nil {
				return err
			}
			if err := fn(st); err != nil {
				return err
			}
			data, err := jobqueue.EncodeState(st)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.key, data, 0)
				return nil
			})
			return err
		}, s.key)

		if errors.Is(err, redis.TxFailedErr) {
			s.logger.DebugContext(ctx, "queue state changed during update, retrying",
				slog.Int("attempt", attempt+1))
			continue
		}
		return err
	}

	return ErrConflict
}

// load reads and decodes the state; a missing key yields an empty state.
func (s *Store) load(ctx context.Context, c getter) (*jobqueue.State, bool, error) {
	missing := false
	st, err := jobqueue.ReadRetry(ctx, s.readAttempts, s.readRetryInterval, func(ctx context.Context) ([]byte, error) {
		data, err := c.Get(ctx, s.key).Bytes()
		if errors.Is(err, redis.Nil) {
			missing = true
			return jobqueue.EncodeState(jobqueue.NewState())
		}
		missing = false
		return data, err
	})
	if errors.Is(err, jobqueue.ErrStoreCorrupt) {
		s.logger.ErrorContext(ctx, "queue state could not be decoded", logger.Error(err))
	}
	return st, missing, err
}
