package fhe

import (
	"context"
	"sync"
	"time"

	"github.com/ryanbastic/go-diary/internal/diary"
)

// Record is a stored ciphertext and the owner and contract it is bound to.
type Record struct {
	Handle     diary.Handle
	Owner      diary.Owner
	Contract   string
	Ciphertext []byte
	CreatedAt  time.Time
}

// CiphertextStore persists ciphertexts by handle.
type CiphertextStore interface {
	// Put stores rec. Handles are content-derived, so writing the same
	// handle twice stores the same bytes.
	Put(ctx context.Context, rec Record) error

	// Get returns diary.ErrHandleNotFound when the handle is unknown.
	Get(ctx context.Context, handle diary.Handle) (*Record, error)
}

// MemoryStore keeps ciphertexts in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[diary.Handle]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[diary.Handle]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Handle] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, handle diary.Handle) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[handle]
	if !ok {
		return nil, diary.ErrHandleNotFound
	}
	return &rec, nil
}

// Len returns the number of stored ciphertexts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
