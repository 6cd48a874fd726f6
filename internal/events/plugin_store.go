package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PluginStore persists plugin registrations and their delivery progress
// across restarts.
type PluginStore interface {
	SavePlugin(ctx context.Context, p *Plugin) error
	DeletePlugin(ctx context.Context, id uuid.UUID) error
	ListPlugins(ctx context.Context) ([]*Plugin, error)
	DeliveryRecorder
}

// DeliveryRecorder records the outcome of one DiaryCreated delivery.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, id uuid.UUID, addedID int64, ok bool) error
}

// PostgresPluginStore keeps registrations in the plugins table. Delivery
// progress lives in the same row so a restarted server reports it.
type PostgresPluginStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresPluginStore creates a PluginStore. queryTimeout sets the
// per-query deadline; zero means no timeout.
func NewPostgresPluginStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresPluginStore {
	return &PostgresPluginStore{pool: pool, queryTimeout: queryTimeout}
}

func (s *PostgresPluginStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresPluginStore) SavePlugin(ctx context.Context, p *Plugin) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO plugins (id, name, endpoint, events, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Endpoint, p.Events, string(p.Status), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save plugin: %w", err)
	}
	return nil
}

func (s *PostgresPluginStore) DeletePlugin(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM plugins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return nil
}

// RecordDelivery resets the failure streak and advances last_added_id on
// success, and extends the streak on failure. last_added_id never moves
// backwards; watchers on different shards deliver out of global order.
func (s *PostgresPluginStore) RecordDelivery(ctx context.Context, id uuid.UUID, addedID int64, ok bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE plugins SET
			last_added_id = CASE WHEN $3 THEN GREATEST(last_added_id, $2) ELSE last_added_id END,
			consecutive_failures = CASE WHEN $3 THEN 0 ELSE consecutive_failures + 1 END
		WHERE id = $1
	`, id, addedID, ok)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return nil
}

func (s *PostgresPluginStore) ListPlugins(ctx context.Context) ([]*Plugin, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, endpoint, events, status, created_at, last_added_id, consecutive_failures
		FROM plugins
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var plugins []*Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

func scanPlugin(row pgx.Row) (*Plugin, error) {
	var p Plugin
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Endpoint, &p.Events, &status, &p.CreatedAt, &p.LastAddedID, &p.Failures); err != nil {
		return nil, fmt.Errorf("scan plugin: %w", err)
	}
	p.Status = PluginStatus(status)
	return &p, nil
}
