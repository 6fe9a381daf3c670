package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"httpcat/internal/core"
)

// SQLiteStore stores cats in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the reuploaded_cats table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reuploaded_cats (
			status INTEGER PRIMARY KEY,
			created_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create reuploaded_cats table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns a cat by status.
func (s *SQLiteStore) Get(ctx context.Context, status core.StatusCode) (*core.MediaRef, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM reuploaded_cats WHERE status = ?", int(status)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("query cat: %w", err)
	}

	ref, err := core.DeserializeMediaRef([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode cat: %w", err)
	}
	return ref, nil
}

// Put inserts or replaces a cat.
func (s *SQLiteStore) Put(ctx context.Context, status core.StatusCode, ref *core.MediaRef) error {
	payload, err := ref.Serialize()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reuploaded_cats (status, created_at, data)
		VALUES (?, ?, ?)
		ON CONFLICT(status) DO UPDATE SET data = excluded.data
	`, int(status), time.Now().Unix(), string(payload))
	if err != nil {
		return fmt.Errorf("insert cat: %w", err)
	}
	return nil
}

// List returns all cats ordered by status.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, data FROM reuploaded_cats ORDER BY status")
	if err != nil {
		return nil, fmt.Errorf("list cats: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			status  int
			payload string
		)
		if err := rows.Scan(&status, &payload); err != nil {
			return nil, fmt.Errorf("scan cat row: %w", err)
		}
		ref, err := core.DeserializeMediaRef([]byte(payload))
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

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
