package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultReadAttempts bounds how often a store re-reads an undecodable document
// before giving up with ErrStoreCorrupt.
const DefaultReadAttempts = 255

// Store persists the complete queue state as a single document.
type Store interface {
	// Read loads the current state. A missing document is initialised empty.
	Read(ctx context.Context) (*State, error)

	// Write replaces the persisted state.
	Write(ctx context.Context, st *State) error

	// Update performs read-modify-write as one atomic step with respect to
	// every other caller of the same backing document. When fn returns an
	// error nothing is written and that error is returned. Optimistic
	// backends may call fn more than once, each time with a freshly read
	// state, so fn must derive everything it writes from st.
	Update(ctx context.Context, fn func(st *State) error) error
}

// ReadRetry loads and decodes a state document, re-reading up to attempts
// times while the document cannot be decoded. It tolerates a reader observing
// a document that another writer has only partly written. After the last
// attempt the decode error is joined with ErrStoreCorrupt. An error from load
// is not a sign of corruption and is returned at once.
func ReadRetry(ctx context.Context, attempts int, interval time.Duration, load func(ctx context.Context) ([]byte, error)) (*State, error) {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load queue state: %w", err)
		}
		st, err := DecodeState(data)
		if err != nil {
			lastErr = err
			continue
		}
		return st, nil
	}

	return nil, errors.Join(ErrStoreCorrupt, lastErr)
}
