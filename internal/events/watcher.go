package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ryanbastic/go-diary/internal/shard"
	"github.com/ryanbastic/go-diary/internal/storage"
)

// Watcher polls every shard for new entries and fires registered handlers.
type Watcher struct {
	registry     *Registry
	checkpoint   Checkpoint
	router       *shard.Router
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger

	mu    sync.Mutex
	wakes map[shard.ID][]chan struct{}

	wg sync.WaitGroup
}

func NewWatcher(
	registry *Registry,
	checkpoint Checkpoint,
	router *shard.Router,
	pollInterval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *Watcher {
	if batchSize <= 0 {
		batchSize = storage.DefaultPageSize
	}
	return &Watcher{
		registry:     registry,
		checkpoint:   checkpoint,
		router:       router,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
		wakes:        make(map[shard.ID][]chan struct{}),
	}
}

// Start launches one goroutine per registered shard and event. They stop
// when ctx is cancelled; Wait blocks until they have saved their final
// checkpoints.
func (w *Watcher) Start(ctx context.Context) {
	events := w.registry.Events()
	if len(events) == 0 {
		w.logger.Info("no event handlers registered, watcher idle")
		return
	}

	for _, id := range w.router.Shards() {
		store, err := w.router.StoreFor(id)
		if err != nil {
			w.logger.Error("no store for shard", "shard", id, "error", err)
			continue
		}
		for _, ev := range events {
			wake := make(chan struct{}, 1)
			w.mu.Lock()
			w.wakes[id] = append(w.wakes[id], wake)
			w.mu.Unlock()

			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.watchShard(ctx, store, id, ev, wake)
			}()
		}
	}
}

// Wake makes the watchers of shardID poll now instead of at their next
// tick. It never blocks; wakes arriving during a poll coalesce into one.
func (w *Watcher) Wake(shardID shard.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.wakes[shardID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until every watch goroutine has returned.
func (w *Watcher) Wait() { w.wg.Wait() }

func (w *Watcher) watchShard(ctx context.Context, store storage.EntryStore, shardID shard.ID, event string, wake <-chan struct{}) {
	lastAddedID, err := w.checkpoint.Load(ctx, shardID, event)
	if err != nil {
		w.logger.Error("failed to load checkpoint", "shard", shardID, "event", event, "error", err)
		return
	}

	w.logger.Info("event watcher started", "shard", shardID, "event", event, "from_added_id", lastAddedID)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	poll := func() {
		newLastID, err := w.processBatch(ctx, store, shardID, event, lastAddedID)
		if err != nil {
			w.logger.Error("event batch failed", "shard", shardID, "event", event, "error", err)
			return
		}
		if newLastID > lastAddedID {
			lastAddedID = newLastID
			if err := w.checkpoint.Save(ctx, shardID, event, lastAddedID); err != nil {
				w.logger.Error("failed to save checkpoint", "shard", shardID, "event", event, "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if err := w.checkpoint.Save(context.Background(), shardID, event, lastAddedID); err != nil {
				w.logger.Error("failed to save final checkpoint", "shard", shardID, "event", event, "error", err)
			}
			return
		case <-ticker.C:
			poll()
		case <-wake:
			poll()
		}
	}
}

// processBatch returns the added_id of the last entry every handler accepted.
// A failing handler ends the batch so the entry is retried on the next poll.
func (w *Watcher) processBatch(
	ctx context.Context,
	store storage.EntryStore,
	shardID shard.ID,
	event string,
	afterAddedID int64,
) (int64, error) {
	entries, err := store.ScanEntries(ctx, afterAddedID, w.batchSize)
	if err != nil {
		return afterAddedID, err
	}

	handlers := w.registry.HandlersFor(event)
	lastID := afterAddedID

	for _, e := range entries {
		for _, handler := range handlers {
			if err := handler(ctx, e); err != nil {
				w.logger.Error("event handler failed",
					"shard", shardID,
					"event", event,
					"added_id", e.AddedID,
					"owner", e.Owner.String(),
					"diary_id", e.DiaryID,
					"error", err,
				)
				return lastID, nil
			}
		}
		lastID = e.AddedID
	}

	return lastID, nil
}
