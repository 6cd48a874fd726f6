package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrationsForPool creates the entry, chunk and counter tables for every
// shard in [shardStart, shardEnd].
func RunMigrationsForPool(ctx context.Context, pool *pgxpool.Pool, shardStart, shardEnd int) error {
	for i := shardStart; i <= shardEnd; i++ {
		entries, chunks, counters := EntryTable(i), ChunkTable(i), CounterTable(i)
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				added_id    BIGSERIAL PRIMARY KEY,
				owner       BYTEA NOT NULL,
				diary_id    BIGINT NOT NULL,
				chunk_count INT NOT NULL CHECK (chunk_count > 0),
				byte_length INT NOT NULL DEFAULT 0,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),

				CONSTRAINT uq_%[1]s_owner_id UNIQUE (owner, diary_id)
			);

			CREATE TABLE IF NOT EXISTS %[2]s (
				owner    BYTEA NOT NULL,
				diary_id BIGINT NOT NULL,
				idx      INT NOT NULL,
				handle   BYTEA NOT NULL,

				PRIMARY KEY (owner, diary_id, idx)
			);

			CREATE TABLE IF NOT EXISTS %[3]s (
				owner   BYTEA PRIMARY KEY,
				next_id BIGINT NOT NULL
			);
		`, entries, chunks, counters)

		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate shard %d: %w", i, err)
		}
	}

	return nil
}

// RunSharedMigrations creates the tables that are not sharded: event
// checkpoints, plugin registrations and ciphertexts.
func RunSharedMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS event_checkpoints (
			shard_id      INT NOT NULL,
			event         TEXT NOT NULL,
			last_added_id BIGINT NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),

			PRIMARY KEY (shard_id, event)
		);

		CREATE TABLE IF NOT EXISTS plugins (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL,
			endpoint   TEXT NOT NULL,
			events     TEXT[] NOT NULL,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_added_id        BIGINT NOT NULL DEFAULT 0,
			consecutive_failures INT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS ciphertexts (
			handle     BYTEA PRIMARY KEY,
			owner      BYTEA NOT NULL,
			contract   TEXT NOT NULL,
			ciphertext BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate shared tables: %w", err)
	}
	return nil
}

// EntryTable returns the entry table name for a shard.
func EntryTable(shardID int) string {
	return fmt.Sprintf("entries_%04d", shardID)
}

// ChunkTable returns the chunk table name for a shard.
func ChunkTable(shardID int) string {
	return fmt.Sprintf("chunks_%04d", shardID)
}

// CounterTable returns the per-owner id counter table name for a shard.
func CounterTable(shardID int) string {
	return fmt.Sprintf("diary_counters_%04d", shardID)
}
