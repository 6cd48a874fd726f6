package events

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/shard"
	"github.com/ryanbastic/go-diary/internal/storage"
)

var (
	alice = mustOwner("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	bob   = mustOwner("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
)

func mustOwner(s string) diary.Owner {
	o, err := diary.ParseOwner(s)
	if err != nil {
		panic(err)
	}
	return o
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newRouter registers n memory shards.
func newRouter(n int) (*shard.Router, []*storage.MemoryStore) {
	r := shard.NewRouter(n)
	stores := make([]*storage.MemoryStore, n)
	for i := range stores {
		stores[i] = storage.NewMemoryStore()
		r.Register(shard.ID(i), stores[i])
	}
	return r, stores
}

func write(t *testing.T, s storage.EntryStore, owner diary.Owner) *diary.Entry {
	t.Helper()
	e, err := s.CreateEntry(context.Background(), diary.CreateEntryRequest{
		Owner:  owner,
		Chunks: []diary.Handle{{1}},
	})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	return e
}
