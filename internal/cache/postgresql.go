package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"httpcat/internal/core"
)

// PostgreSQLStore stores cats in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the reuploaded_cats table if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reuploaded_cats (
			status INTEGER PRIMARY KEY,
			created_at BIGINT NOT NULL,
			data JSONB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create reuploaded_cats table: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Get returns a cat by status.
func (s *PostgreSQLStore) Get(ctx context.Context, status core.StatusCode) (*core.MediaRef, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM reuploaded_cats WHERE status = $1", int(status)).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("query cat: %w", err)
	}

	ref, err := core.DeserializeMediaRef(payload)
	if err != nil {
		return nil, fmt.Errorf("decode cat: %w", err)
	}
	return ref, nil
}

// Put inserts or replaces a cat.
func (s *PostgreSQLStore) Put(ctx context.Context, status core.StatusCode, ref *core.MediaRef) error {
	payload, err := ref.Serialize()
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reuploaded_cats (status, created_at, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (status) DO UPDATE SET data = EXCLUDED.data
	`, int(status), time.Now().Unix(), payload)
	if err != nil {
		return fmt.Errorf("insert cat: %w", err)
	}
	return nil
}

// List returns all cats ordered by status.
func (s *PostgreSQLStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, "SELECT status, data FROM reuploaded_cats ORDER BY status")
	if err != nil {
		return nil, fmt.Errorf("list cats: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			status  int32
			payload []byte
		)
		if err := rows.Scan(&status, &payload); err != nil {
			return nil, fmt.Errorf("scan cat row: %w", err)
		}
		ref, err := core.DeserializeMediaRef(payload)
		if err != nil {
			return nil, fmt.Errorf("decode cat row %d: %w", status, err)
		}
		entries = append(entries, Entry{Status: core.StatusCode(status), Ref: ref})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cat rows: %w", err)
	}
	return entries, nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
