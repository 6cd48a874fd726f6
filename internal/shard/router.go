package shard

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/storage"
)

// Router maps shard IDs to EntryStore instances.
type Router struct {
	mu        sync.RWMutex
	numShards int
	stores    map[ID]storage.EntryStore
}

// NewRouter creates a router over numShards logical shards.
func NewRouter(numShards int) *Router {
	return &Router{numShards: numShards, stores: make(map[ID]storage.EntryStore)}
}

// NumShards returns the number of logical shards.
func (r *Router) NumShards() int { return r.numShards }

// Register associates a shard ID with an EntryStore.
func (r *Router) Register(id ID, store storage.EntryStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[id] = store
}

// StoreFor returns the EntryStore for the given shard ID.
func (r *Router) StoreFor(id ID) (storage.EntryStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	if !ok {
		return nil, fmt.Errorf("no store registered for shard %d", id)
	}
	return s, nil
}

// StoreForOwner returns the store holding owner's entries.
func (r *Router) StoreForOwner(owner diary.Owner) (storage.EntryStore, error) {
	return r.StoreFor(ForOwner(owner, r.numShards))
}

// Shards returns the registered shard IDs in ascending order.
func (r *Router) Shards() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
