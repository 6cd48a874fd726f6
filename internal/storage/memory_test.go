package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ryanbastic/go-diary/internal/diary"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var _ EntryStore = s

	for i := 0; i < 3; i++ {
		e, err := s.CreateEntry(ctx, diary.CreateEntryRequest{Owner: alice, Chunks: handles(2, byte(i))})
		if err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
		if e.DiaryID != int64(i) {
			t.Errorf("DiaryID = %d, want %d", e.DiaryID, i)
		}
	}
	if _, err := s.CreateEntry(ctx, diary.CreateEntryRequest{Owner: bob, Chunks: handles(1, 9)}); err != nil {
		t.Fatalf("CreateEntry bob: %v", err)
	}

	if n, _ := s.EntryCount(ctx, alice); n != 3 {
		t.Errorf("EntryCount = %d, want 3", n)
	}
	if n, _ := s.ChunkCount(ctx, alice, 2); n != 2 {
		t.Errorf("ChunkCount = %d, want 2", n)
	}
	if n, _ := s.ChunkCount(ctx, alice, 3); n != 0 {
		t.Errorf("ChunkCount missing = %d, want 0", n)
	}
	m, _ := s.EntryMeta(ctx, bob, 1)
	if m.Exists {
		t.Error("bob has no entry 1")
	}
	if _, err := s.Chunk(ctx, alice, 0, 2); !errors.Is(err, diary.ErrChunkOutOfRange) {
		t.Errorf("Chunk out of range: %v", err)
	}

	scanned, _ := s.ScanEntries(ctx, 2, 10)
	if len(scanned) != 2 || scanned[1].Owner != bob {
		t.Errorf("scan = %+v", scanned)
	}

	page, err := s.ListEntries(ctx, alice, "", 2)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(page.Entries) != 2 || !page.HasMore {
		t.Fatalf("first page = %+v", page)
	}
	page, err = s.ListEntries(ctx, alice, page.NextCursor, 2)
	if err != nil {
		t.Fatalf("ListEntries page 2: %v", err)
	}
	if len(page.Entries) != 1 || page.HasMore || page.Entries[0].DiaryID != 2 {
		t.Errorf("second page = %+v", page)
	}
}
