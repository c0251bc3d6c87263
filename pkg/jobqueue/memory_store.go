package jobqueue

import (
	"context"
	"sync"
)

// MemoryStore implements Store in memory for testing and embedding.
// It keeps the encoded document so reads go through the same decode path as
// the persistent backends.
type MemoryStore struct {
	mu       sync.Mutex
	document []byte
	attempts int
	reads    int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: DefaultReadAttempts}
}

// NewMemoryStoreFromJSON creates a store seeded with a raw document.
// The document is not validated until the first read.
func NewMemoryStoreFromJSON(document []byte) *MemoryStore {
	ms := NewMemoryStore()
	ms.document = append([]byte(nil), document...)
	return ms
}

// Read implements Store.
func (ms *MemoryStore) Read(ctx context.Context) (*State, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.readLocked(ctx)
}

// Write implements Store.
func (ms *MemoryStore) Write(ctx context.Context, st *State) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.writeLocked(st)
}

// Update implements Store.
func (ms *MemoryStore) Update(ctx context.Context, fn func(st *State) error) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	st, err := ms.readLocked(ctx)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return ms.writeLocked(st)
}

// Document returns a copy of the raw persisted document.
func (ms *MemoryStore) Document() []byte {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]byte(nil), ms.document...)
}

// Reads returns how many decode attempts were made so far.
func (ms *MemoryStore) Reads() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.reads
}

func (ms *MemoryStore) readLocked(ctx context.Context) (*State, error) {
	if ms.document == nil {
		if err := ms.writeLocked(NewState()); err != nil {
			return nil, err
		}
	}

	return ReadRetry(ctx, ms.attempts, 0, func(context.Context) ([]byte, error) {
		ms.reads++
		return ms.document, nil
	})
}

func (ms *MemoryStore) writeLocked(st *State) error {
	data, err := EncodeState(st)
	if err != nil {
		return err
	}
	ms.document = data
	return nil
}
