package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ryanbastic/go-diary/internal/diary"
)

// MemoryStore is an in-process EntryStore for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextAdd int64
	byOwner map[diary.Owner][]diary.Entry
	log     []diary.Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOwner: make(map[diary.Owner][]diary.Entry), now: time.Now}
}

func (s *MemoryStore) CreateEntry(ctx context.Context, req diary.CreateEntryRequest) (*diary.Entry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAdd++
	e := diary.Entry{
		AddedID:    s.nextAdd,
		Owner:      req.Owner,
		DiaryID:    int64(len(s.byOwner[req.Owner])),
		Chunks:     append([]diary.Handle(nil), req.Chunks...),
		ByteLength: req.ByteLength,
		CreatedAt:  s.now().UTC(),
	}
	s.byOwner[req.Owner] = append(s.byOwner[req.Owner], e)
	s.log = append(s.log, e)
	return &e, nil
}

func (s *MemoryStore) entry(owner diary.Owner, diaryID int64) (diary.Entry, bool) {
	entries := s.byOwner[owner]
	if diaryID < 0 || diaryID >= int64(len(entries)) {
		return diary.Entry{}, false
	}
	return entries[diaryID], true
}

func (s *MemoryStore) EntryMeta(_ context.Context, owner diary.Owner, diaryID int64) (*diary.EntryMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entry(owner, diaryID)
	if !ok {
		return &diary.EntryMeta{Owner: owner, DiaryID: diaryID}, nil
	}
	m := e.Meta()
	return &m, nil
}

func (s *MemoryStore) EntryCount(_ context.Context, owner diary.Owner) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byOwner[owner])), nil
}

func (s *MemoryStore) ChunkCount(_ context.Context, owner diary.Owner, diaryID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, _ := s.entry(owner, diaryID)
	return len(e.Chunks), nil
}

func (s *MemoryStore) Chunk(_ context.Context, owner diary.Owner, diaryID int64, index int) (diary.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entry(owner, diaryID)
	if !ok {
		return diary.Handle{}, diary.ErrEntryNotFound
	}
	if index < 0 || index >= len(e.Chunks) {
		return diary.Handle{}, fmt.Errorf("%w: %d of %d", diary.ErrChunkOutOfRange, index, len(e.Chunks))
	}
	return e.Chunks[index], nil
}

func (s *MemoryStore) Chunks(_ context.Context, owner diary.Owner, diaryID int64) ([]diary.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entry(owner, diaryID)
	if !ok {
		return nil, diary.ErrEntryNotFound
	}
	return append([]diary.Handle(nil), e.Chunks...), nil
}

func (s *MemoryStore) ListEntries(_ context.Context, owner diary.Owner, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var from int64
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		from = c.NextDiaryID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.byOwner[owner]
	page := &Page{Entries: []diary.EntryMeta{}}
	for i := from; i < int64(len(entries)) && len(page.Entries) < limit; i++ {
		page.Entries = append(page.Entries, entries[i].Meta())
	}
	next := from + int64(len(page.Entries))
	if next < int64(len(entries)) {
		c := Cursor{NextDiaryID: next}
		encoded, err := c.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode next cursor: %w", err)
		}
		page.NextCursor = encoded
		page.HasMore = true
	}
	return page, nil
}

func (s *MemoryStore) ScanEntries(_ context.Context, afterAddedID int64, limit int) ([]diary.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []diary.Entry
	for _, e := range s.log {
		if e.AddedID <= afterAddedID {
			continue
		}
		e.Chunks = nil
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
