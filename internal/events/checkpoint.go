package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ryanbastic/go-diary/internal/shard"
)

// PostgresCheckpoint implements Checkpoint using the event_checkpoints table.
type PostgresCheckpoint struct {
	pool *pgxpool.Pool
}

func NewPostgresCheckpoint(pool *pgxpool.Pool) *PostgresCheckpoint {
	return &PostgresCheckpoint{pool: pool}
}

// Load returns 0 when no checkpoint has been saved yet.
func (c *PostgresCheckpoint) Load(ctx context.Context, shardID shard.ID, event string) (int64, error) {
	var addedID int64
	err := c.pool.QueryRow(ctx,
		`SELECT last_added_id FROM event_checkpoints WHERE shard_id = $1 AND event = $2`,
		int(shardID), event,
	).Scan(&addedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint shard %d event %s: %w", shardID, event, err)
	}
	return addedID, nil
}

func (c *PostgresCheckpoint) Save(ctx context.Context, shardID shard.ID, event string, addedID int64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO event_checkpoints (shard_id, event, last_added_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (shard_id, event)
		DO UPDATE SET last_added_id = GREATEST(event_checkpoints.last_added_id, $3), updated_at = now()
	`, int(shardID), event, addedID)
	if err != nil {
		return fmt.Errorf("save checkpoint shard %d event %s: %w", shardID, event, err)
	}
	return nil
}

type checkpointKey struct {
	shard shard.ID
	event string
}

// MemoryCheckpoint keeps checkpoints in process memory.
type MemoryCheckpoint struct {
	mu   sync.Mutex
	last map[checkpointKey]int64
}

func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{last: make(map[checkpointKey]int64)}
}

func (c *MemoryCheckpoint) Load(_ context.Context, shardID shard.ID, event string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[checkpointKey{shardID, event}], nil
}

func (c *MemoryCheckpoint) Save(_ context.Context, shardID shard.ID, event string, addedID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := checkpointKey{shardID, event}
	if addedID > c.last[k] {
		c.last[k] = addedID
	}
	return nil
}
