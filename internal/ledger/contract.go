// Package ledger is the diary contract: it accepts proven ciphertext handles
// from an owner, appends them as a new entry and serves the read accessors.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/metrics"
	"github.com/ryanbastic/go-diary/internal/shard"
	"github.com/ryanbastic/go-diary/internal/storage"
)

// ProofVerifier checks that a handle was issued for owner on contract.
type ProofVerifier interface {
	Verify(proof diary.Proof, owner diary.Owner, contract string, handle diary.Handle) error
}

// Listener observes DiaryCreated events as they are committed.
type Listener func(ctx context.Context, ev diary.Created)

// Contract implements the diary contract over sharded entry storage.
type Contract struct {
	address  string
	router   *shard.Router
	verifier ProofVerifier
	logger   *slog.Logger

	mu           sync.RWMutex
	listeners    []Listener
	maxTextChars int
}

// New creates a Contract identified by address.
func New(address string, router *shard.Router, verifier ProofVerifier, logger *slog.Logger) *Contract {
	return &Contract{
		address:  address,
		router:   router,
		verifier: verifier,
		logger:   logger,

		maxTextChars: diary.DefaultMaxTextChars,
	}
}

// Address is the contract identifier proofs and authorizations are bound to.
func (c *Contract) Address() string { return c.address }

// SetMaxTextChars caps the characters an entry may hold. Values below one
// are ignored.
func (c *Contract) SetMaxTextChars(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxTextChars = n
}

// MaxTextChars returns the per-entry character cap.
func (c *Contract) MaxTextChars() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxTextChars
}

// Subscribe registers l for every DiaryCreated event.
func (c *Contract) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// CreateDiary appends a new entry for caller. Every handle must carry a proof
// issued for caller on this contract. On any error no entry is created.
func (c *Contract) CreateDiary(ctx context.Context, caller diary.Owner, handles []diary.Handle, proofs []diary.Proof, byteLength int) (*diary.Entry, error) {
	if caller.IsZero() {
		return nil, fmt.Errorf("%w: zero address", diary.ErrInvalidOwner)
	}
	if len(handles) != len(proofs) {
		return nil, fmt.Errorf("%w: %d chunks, %d proofs", diary.ErrChunkProofMismatch, len(handles), len(proofs))
	}
	if len(handles) == 0 {
		return nil, diary.ErrNoChunks
	}
	// No character of text takes more than WordSize bytes.
	maxBytes := c.MaxTextChars() * codec.WordSize
	if len(handles) > codec.ChunkCount(maxBytes) || byteLength > maxBytes {
		return nil, fmt.Errorf("%w: %d chunks, %d bytes, limit %d characters",
			diary.ErrInputTooLarge, len(handles), byteLength, c.MaxTextChars())
	}
	for i, h := range handles {
		if err := c.verifier.Verify(proofs[i], caller, c.address, h); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	store, err := c.router.StoreForOwner(caller)
	if err != nil {
		return nil, err
	}
	e, err := store.CreateEntry(ctx, diary.CreateEntryRequest{
		Owner:      caller,
		Chunks:     handles,
		ByteLength: byteLength,
	})
	if err != nil {
		return nil, err
	}

	metrics.EntriesCreated.Inc()
	metrics.ChunksStored.Add(float64(len(handles)))
	c.logger.Info("diary created",
		"owner", caller.String(),
		"diary_id", e.DiaryID,
		"chunks", len(handles),
	)
	c.emit(ctx, diary.Created{Owner: caller, DiaryID: e.DiaryID, Timestamp: e.CreatedAt})
	return e, nil
}

func (c *Contract) emit(ctx context.Context, ev diary.Created) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}

func (c *Contract) store(owner diary.Owner) (storage.EntryStore, error) {
	return c.router.StoreForOwner(owner)
}

// DiaryCount returns how many entries owner has created.
func (c *Contract) DiaryCount(ctx context.Context, owner diary.Owner) (int64, error) {
	s, err := c.store(owner)
	if err != nil {
		return 0, err
	}
	return s.EntryCount(ctx, owner)
}

// DiaryEntry returns the slot's timestamp and existence flag. A slot never
// written yields Exists false and a zero timestamp.
func (c *Contract) DiaryEntry(ctx context.Context, owner diary.Owner, diaryID int64) (*diary.EntryMeta, error) {
	s, err := c.store(owner)
	if err != nil {
		return nil, err
	}
	return s.EntryMeta(ctx, owner, diaryID)
}

// ChunkCount returns the entry's chunk count, 0 when it does not exist.
func (c *Contract) ChunkCount(ctx context.Context, owner diary.Owner, diaryID int64) (int, error) {
	s, err := c.store(owner)
	if err != nil {
		return 0, err
	}
	return s.ChunkCount(ctx, owner, diaryID)
}

// EncryptedTextChunk returns the handle at index.
func (c *Contract) EncryptedTextChunk(ctx context.Context, owner diary.Owner, diaryID int64, index int) (diary.Handle, error) {
	s, err := c.store(owner)
	if err != nil {
		return diary.Handle{}, err
	}
	return s.Chunk(ctx, owner, diaryID, index)
}

// Chunks returns all of the entry's handles in order.
func (c *Contract) Chunks(ctx context.Context, owner diary.Owner, diaryID int64) ([]diary.Handle, error) {
	s, err := c.store(owner)
	if err != nil {
		return nil, err
	}
	return s.Chunks(ctx, owner, diaryID)
}

// List pages through owner's entry metadata.
func (c *Contract) List(ctx context.Context, owner diary.Owner, cursor string, limit int) (*storage.Page, error) {
	s, err := c.store(owner)
	if err != nil {
		return nil, err
	}
	return s.ListEntries(ctx, owner, cursor, limit)
}
