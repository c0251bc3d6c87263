// Package pgstore keeps the queue state as a JSONB row in PostgreSQL.
// Updates lock the row with SELECT ... FOR UPDATE for the whole
// read-modify-write cycle.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// DefaultName is the state row used when none is configured.
const DefaultName = "default"

const (
	selectQuery          = `SELECT document FROM jobqueue_state WHERE name = $1`
	selectForUpdateQuery = `SELECT document FROM jobqueue_state WHERE name = $1 FOR UPDATE`
	insertEmptyQuery     = `INSERT INTO jobqueue_state (name, document) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`
	upsertQuery          = `INSERT INTO jobqueue_state (name, document, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
	updateQuery = `UPDATE jobqueue_state SET document = $2, updated_at = now() WHERE name = $1`
)

// Store implements jobqueue.Store on one row of jobqueue_state.
type Store struct {
	pool              *pgxpool.Pool
	name              string
	readAttempts      int
	readRetryInterval time.Duration
	logger            *slog.Logger
}

var _ jobqueue.Store = (*Store)(nil)

// Option is a functional option for configuring the store
type Option func(*Store)

// WithName selects the state row
func WithName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.name = name
		}
	}
}

// WithReadAttempts bounds how often an undecodable document is re-read
func WithReadAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.readAttempts = n
		}
	}
}

// WithReadRetryInterval sets the pause between reads of an undecodable document
func WithReadRetryInterval(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.readRetryInterval = d
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

// New creates a store on pool. Run Migrate first.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:         pool,
		name:         DefaultName,
		readAttempts: jobqueue.DefaultReadAttempts,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("pgstore"), slog.String("name", s.name))
	return s
}

// NewFromConfig creates a store using the row name from cfg.
func NewFromConfig(pool *pgxpool.Pool, cfg Config, opts ...Option) *Store {
	return New(pool, append([]Option{WithName(cfg.Name)}, opts...)...)
}

// Read implements jobqueue.Store. A missing row is created with an empty state.
func (s *Store) Read(ctx context.Context) (*jobqueue.State, error) {
	st, missing, err := s.load(ctx, s.pool, selectQuery)
	if err != nil {
		return nil, err
	}
	if missing {
		if err := s.insertEmpty(ctx, s.pool); err != nil {
			return nil, err
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
	if _, err := s.pool.Exec(ctx, upsertQuery, s.name, data); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	return nil
}

// Update implements jobqueue.Store. fn runs once inside a transaction that
// holds the row lock; an error from fn rolls the transaction back.
func (s *Store) Update(ctx context.Context, fn func(st *jobqueue.State) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.insertEmpty(ctx, tx); err != nil {
			return err
		}
		st, _, err := s.load(ctx, tx, selectForUpdateQuery)
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
		if _, err := tx.Exec(ctx, updateQuery, s.name, data); err != nil {
			return fmt.Errorf("failed to write queue state: %w", err)
		}
		return nil
	})
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) insertEmpty(ctx context.Context, q querier) error {
	data, err := jobqueue.EncodeState(jobqueue.NewState())
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, insertEmptyQuery, s.name, data); err != nil {
		return fmt.Errorf("failed to initialise queue state: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, q querier, query string) (*jobqueue.State, bool, error) {
	missing := false
	st, err := jobqueue.ReadRetry(ctx, s.readAttempts, s.readRetryInterval, func(ctx context.Context) ([]byte, error) {
		var data []byte
		err := q.QueryRow(ctx, query, s.name).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
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
