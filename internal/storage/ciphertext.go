package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/fhe"
)

// PostgresCiphertextStore implements fhe.CiphertextStore on the shared
// ciphertexts table.
type PostgresCiphertextStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewPostgresCiphertextStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresCiphertextStore {
	return &PostgresCiphertextStore{pool: pool, queryTimeout: queryTimeout}
}

func (s *PostgresCiphertextStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresCiphertextStore) Put(ctx context.Context, rec fhe.Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ciphertexts (handle, owner, contract, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (handle) DO NOTHING
	`, rec.Handle[:], rec.Owner[:], rec.Contract, rec.Ciphertext, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("put ciphertext: %w", err)
	}
	return nil
}

func (s *PostgresCiphertextStore) Get(ctx context.Context, handle diary.Handle) (*fhe.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec := fhe.Record{Handle: handle}
	var owner []byte
	err := s.pool.QueryRow(ctx, `
		SELECT owner, contract, ciphertext, created_at
		FROM ciphertexts
		WHERE handle = $1
	`, handle[:]).Scan(&owner, &rec.Contract, &rec.Ciphertext, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, diary.ErrHandleNotFound
		}
		return nil, fmt.Errorf("get ciphertext: %w", err)
	}
	copy(rec.Owner[:], owner)
	return &rec, nil
}
