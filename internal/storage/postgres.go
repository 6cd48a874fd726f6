package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
)

// PostgresStore implements EntryStore for a single shard using PostgreSQL.
type PostgresStore struct {
	pool         *pgxpool.Pool
	entries      string
	chunks       string
	counters     string
	queryTimeout time.Duration
}

// NewPostgresStore creates an EntryStore backed by one shard's tables.
// queryTimeout sets the per-query context deadline; zero means no timeout.
func NewPostgresStore(pool *pgxpool.Pool, shardID int, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		pool:         pool,
		entries:      EntryTable(shardID),
		chunks:       ChunkTable(shardID),
		counters:     CounterTable(shardID),
		queryTimeout: queryTimeout,
	}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func validateRequest(req diary.CreateEntryRequest) error {
	if len(req.Chunks) == 0 {
		return diary.ErrNoChunks
	}
	if req.ByteLength < 0 {
		return fmt.Errorf("%w: negative byte length %d", codec.ErrByteLength, req.ByteLength)
	}
	if req.ByteLength > 0 && codec.ChunkCount(req.ByteLength) != len(req.Chunks) {
		return fmt.Errorf("%w: byte length %d needs %d chunks, got %d",
			codec.ErrByteLength, req.ByteLength, codec.ChunkCount(req.ByteLength), len(req.Chunks))
	}
	return nil
}

// CreateEntry assigns the next id from the owner's counter row and writes the
// entry and its chunks in one transaction. The counter row lock serializes
// concurrent creates for the same owner.
func (s *PostgresStore) CreateEntry(ctx context.Context, req diary.CreateEntryRequest) (*diary.Entry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create entry begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var diaryID int64
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (owner, next_id) VALUES ($1, 1)
		ON CONFLICT (owner) DO UPDATE SET next_id = %[1]s.next_id + 1
		RETURNING next_id - 1
	`, s.counters), req.Owner[:]).Scan(&diaryID)
	if err != nil {
		return nil, fmt.Errorf("create entry next id: %w", err)
	}

	e := diary.Entry{
		Owner:      req.Owner,
		DiaryID:    diaryID,
		Chunks:     req.Chunks,
		ByteLength: req.ByteLength,
	}
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (owner, diary_id, chunk_count, byte_length)
		VALUES ($1, $2, $3, $4)
		RETURNING added_id, created_at
	`, s.entries), req.Owner[:], diaryID, len(req.Chunks), req.ByteLength).Scan(&e.AddedID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create entry insert: %w", err)
	}

	rows := make([][]any, len(req.Chunks))
	for i, h := range req.Chunks {
		rows[i] = []any{req.Owner[:], diaryID, i, h[:]}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{s.chunks},
		[]string{"owner", "diary_id", "idx", "handle"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, fmt.Errorf("create entry chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create entry commit: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) EntryMeta(ctx context.Context, owner diary.Owner, diaryID int64) (*diary.EntryMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT chunk_count, byte_length, created_at
		FROM %s
		WHERE owner = $1 AND diary_id = $2
	`, s.entries)

	m := diary.EntryMeta{Owner: owner, DiaryID: diaryID}
	err := s.pool.QueryRow(ctx, query, owner[:], diaryID).Scan(&m.ChunkCount, &m.ByteLength, &m.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &m, nil
		}
		return nil, fmt.Errorf("entry meta: %w", err)
	}
	m.Exists = true
	return &m, nil
}

func (s *PostgresStore) EntryCount(ctx context.Context, owner diary.Owner) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT next_id FROM %s WHERE owner = $1`, s.counters),
		owner[:],
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("entry count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ChunkCount(ctx context.Context, owner diary.Owner, diaryID int64) (int, error) {
	m, err := s.EntryMeta(ctx, owner, diaryID)
	if err != nil {
		return 0, err
	}
	return m.ChunkCount, nil
}

func (s *PostgresStore) Chunk(ctx context.Context, owner diary.Owner, diaryID int64, index int) (diary.Handle, error) {
	m, err := s.EntryMeta(ctx, owner, diaryID)
	if err != nil {
		return diary.Handle{}, err
	}
	if !m.Exists {
		return diary.Handle{}, diary.ErrEntryNotFound
	}
	if index < 0 || index >= m.ChunkCount {
		return diary.Handle{}, fmt.Errorf("%w: %d of %d", diary.ErrChunkOutOfRange, index, m.ChunkCount)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw []byte
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT handle FROM %s
		WHERE owner = $1 AND diary_id = $2 AND idx = $3
	`, s.chunks), owner[:], diaryID, index).Scan(&raw)
	if err != nil {
		return diary.Handle{}, fmt.Errorf("get chunk: %w", err)
	}
	var h diary.Handle
	copy(h[:], raw)
	return h, nil
}

func (s *PostgresStore) Chunks(ctx context.Context, owner diary.Owner, diaryID int64) ([]diary.Handle, error) {
	m, err := s.EntryMeta(ctx, owner, diaryID)
	if err != nil {
		return nil, err
	}
	if !m.Exists {
		return nil, diary.ErrEntryNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT handle FROM %s
		WHERE owner = $1 AND diary_id = $2
		ORDER BY idx ASC
	`, s.chunks), owner[:], diaryID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	handles := make([]diary.Handle, 0, m.ChunkCount)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("get chunks scan: %w", err)
		}
		var h diary.Handle
		copy(h[:], raw)
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

func (s *PostgresStore) ListEntries(ctx context.Context, owner diary.Owner, cursor string, limit int) (*Page, error) {
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

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// One extra row tells whether another page exists.
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT diary_id, chunk_count, byte_length, created_at
		FROM %s
		WHERE owner = $1 AND diary_id >= $2
		ORDER BY diary_id ASC
		LIMIT $3
	`, s.entries), owner[:], from, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	page := &Page{Entries: []diary.EntryMeta{}}
	for rows.Next() {
		m := diary.EntryMeta{Owner: owner, Exists: true}
		if err := rows.Scan(&m.DiaryID, &m.ChunkCount, &m.ByteLength, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("list entries scan: %w", err)
		}
		page.Entries = append(page.Entries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries rows: %w", err)
	}

	if len(page.Entries) > limit {
		next := Cursor{NextDiaryID: page.Entries[limit].DiaryID}
		page.Entries = page.Entries[:limit]
		encoded, err := next.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode next cursor: %w", err)
		}
		page.NextCursor = encoded
		page.HasMore = true
	}
	return page, nil
}

func (s *PostgresStore) ScanEntries(ctx context.Context, afterAddedID int64, limit int) ([]diary.Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT added_id, owner, diary_id, byte_length, created_at
		FROM %s
		WHERE added_id > $1
		ORDER BY added_id ASC
		LIMIT $2
	`, s.entries), afterAddedID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	defer rows.Close()

	var entries []diary.Entry
	for rows.Next() {
		var e diary.Entry
		var owner []byte
		if err := rows.Scan(&e.AddedID, &owner, &e.DiaryID, &e.ByteLength, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entries scan: %w", err)
		}
		copy(e.Owner[:], owner)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
