package storage

import (
	"context"

	"github.com/ryanbastic/go-diary/internal/diary"
)

// DefaultPageSize is used when a list call passes no limit.
const DefaultPageSize = 100

// Page is one page of entry metadata.
type Page struct {
	Entries    []diary.EntryMeta `json:"entries"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// EntryStore is the append-only entry storage for a single shard. Entries are
// never updated or deleted.
type EntryStore interface {
	// CreateEntry appends an entry for req.Owner, assigning the next diary id
	// (0 for the first) and the creation time. Nothing is written on error.
	CreateEntry(ctx context.Context, req diary.CreateEntryRequest) (*diary.Entry, error)

	// EntryMeta describes the slot. A missing entry is not an error; the
	// returned meta has Exists false.
	EntryMeta(ctx context.Context, owner diary.Owner, diaryID int64) (*diary.EntryMeta, error)

	// EntryCount returns how many entries owner has created.
	EntryCount(ctx context.Context, owner diary.Owner) (int64, error)

	// ChunkCount returns the entry's chunk count, or 0 if it does not exist.
	ChunkCount(ctx context.Context, owner diary.Owner, diaryID int64) (int, error)

	// Chunk returns one handle. It fails with diary.ErrEntryNotFound or
	// diary.ErrChunkOutOfRange.
	Chunk(ctx context.Context, owner diary.Owner, diaryID int64, index int) (diary.Handle, error)

	// Chunks returns all handles in order.
	Chunks(ctx context.Context, owner diary.Owner, diaryID int64) ([]diary.Handle, error)

	// ListEntries pages through owner's entries in diary id order.
	ListEntries(ctx context.Context, owner diary.Owner, cursor string, limit int) (*Page, error)

	// ScanEntries returns entries with added_id > afterAddedID in write order,
	// without chunks. Used by event watchers.
	ScanEntries(ctx context.Context, afterAddedID int64, limit int) ([]diary.Entry, error)
}
