// Package events delivers committed diary entries to in-process handlers and
// to external JSON-RPC plugins.
package events

import (
	"context"

	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/shard"
)

// HandlerFunc is invoked for each new entry in write order within a shard.
// Must be idempotent: an entry may be delivered more than once.
type HandlerFunc func(ctx context.Context, e diary.Entry) error

// Checkpoint persists the last processed added_id per shard and event.
type Checkpoint interface {
	Load(ctx context.Context, shardID shard.ID, event string) (int64, error)
	Save(ctx context.Context, shardID shard.ID, event string, addedID int64) error
}
