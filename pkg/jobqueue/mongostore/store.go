// Package mongostore keeps the queue state in a single MongoDB document
// {_id, version, running, queued}. Updates replace the document only if its
// version is unchanged and retry otherwise.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// DefaultDocumentID is the document used when none is configured.
const DefaultDocumentID = "default"

// record is the stored document. The job arrays stay raw so that they go
// through the shared JSON codec.
type record struct {
	ID      string        `bson:"_id"`
	Version int64         `bson:"version"`
	Running bson.RawValue `bson:"running"`
	Queued  bson.RawValue `bson:"queued"`
}

// Store implements jobqueue.Store on one document of a collection.
type Store struct {
	coll              *mongo.Collection
	id                string
	readAttempts      int
	readRetryInterval time.Duration
	maxRetries        int
	logger            *slog.Logger
}

var _ jobqueue.Store = (*Store)(nil)

// Option is a functional option for configuring the store
type Option func(*Store)

// WithDocumentID selects the state document
func WithDocumentID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.id = id
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

// New creates a store on coll.
func New(coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{
		coll:         coll,
		id:           DefaultDocumentID,
		readAttempts: jobqueue.DefaultReadAttempts,
		maxRetries:   50,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("mongostore"), slog.String("document_id", s.id))
	return s
}

// NewFromConfig creates a store on the database and collection named in cfg.
func NewFromConfig(client *mongo.Client, cfg Config, opts ...Option) *Store {
	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return New(coll, append([]Option{WithDocumentID(cfg.DocumentID), WithMaxRetries(cfg.MaxUpdateRetries)}, opts...)...)
}

// Read implements jobqueue.Store. A missing document is created with an empty state.
func (s *Store) Read(ctx context.Context) (*jobqueue.State, error) {
	st, version, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		// losing the race to another initialiser is fine
		if _, err := s.replace(ctx, st, 0); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Write implements jobqueue.Store. The version is bumped unconditionally.
func (s *Store) Write(ctx context.Context, st *jobqueue.State) error {
	running, queued, err := toBSON(st)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: s.id}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "running", Value: running}, {Key: "queued", Value: queued}}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	return nil
}

// Update implements jobqueue.Store. fn runs once per attempt; ErrConflict is
// returned when every attempt found the version changed.
func (s *Store) Update(ctx context.Context, fn func(st *jobqueue.State) error) error {
	for attempt := range s.maxRetries {
		st, version, err := s.load(ctx)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		ok, err := s.replace(ctx, st, version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		s.logger.DebugContext(ctx, "queue state changed during update, retrying",
			slog.Int("attempt", attempt+1))
	}
	return ErrConflict
}

// load returns the decoded state and its version; version 0 means the
// document does not exist yet.
func (s *Store) load(ctx context.Context) (*jobqueue.State, int64, error) {
	var version int64
	st, err := jobqueue.ReadRetry(ctx, s.readAttempts, s.readRetryInterval, func(ctx context.Context) ([]byte, error) {
		var rec record
		err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: s.id}}).Decode(&rec)
		if errors.Is(err, mongo.ErrNoDocuments) {
			version = 0
			return jobqueue.EncodeState(jobqueue.NewState())
		}
		if err != nil {
			return nil, err
		}
		version = rec.Version
		return toJSON(rec)
	})
	if errors.Is(err, jobqueue.ErrStoreCorrupt) {
		s.logger.ErrorContext(ctx, "queue state could not be decoded", logger.Error(err))
	}
	return st, version, err
}

// replace stores st if the document still has version and reports whether
// it did. Version 0 inserts a new document.
func (s *Store) replace(ctx context.Context, st *jobqueue.State, version int64) (bool, error) {
	running, queued, err := toBSON(st)
	if err != nil {
		return false, err
	}
	doc := record{ID: s.id, Version: version + 1, Running: running, Queued: queued}

	if version == 0 {
		_, err := s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to create queue state: %w", err)
		}
		return true, nil
	}

	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: s.id}, {Key: "version", Value: version}}, doc)
	if err != nil {
		return false, fmt.Errorf("failed to replace queue state: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// toJSON renders the stored arrays as a state document. Missing arrays stay
// missing so that the decoder rejects them.
func toJSON(rec record) ([]byte, error) {
	doc := bson.D{}
	if len(rec.Running.Value) > 0 {
		doc = append(doc, bson.E{Key: "running", Value: rec.Running})
	}
	if len(rec.Queued.Value) > 0 {
		doc = append(doc, bson.E{Key: "queued", Value: rec.Queued})
	}
	return bson.MarshalExtJSON(doc, false, false)
}

// toBSON converts the encoded state into raw BSON arrays.
func toBSON(st *jobqueue.State) (running, queued bson.RawValue, err error) {
	data, err := jobqueue.EncodeState(st)
	if err != nil {
		return running, queued, err
	}
	var doc struct {
		Running bson.RawValue `bson:"running"`
		Queued  bson.RawValue `bson:"queued"`
	}
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return running, queued, fmt.Errorf("failed to convert queue state: %w", err)
	}
	return doc.Running, doc.Queued, nil
}
