// Package cache provides the durable tier of the cat cache: a store of
// uploaded MediaRefs keyed by status code that survives restarts.
// Backends: the plugin config file (default), memory, Redis, SQLite,
// PostgreSQL and MongoDB.
package cache

import (
	"context"
	"sort"

	"httpcat/internal/core"
)

// Store type constants.
const (
	TypeConfig     = "config"
	TypeMemory     = "memory"
	TypeRedis      = "redis"
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Entry is one stored cat.
type Entry struct {
	Status core.StatusCode `json:"status"`
	Ref    *core.MediaRef  `json:"ref"`
}

// Store defines the interface for the durable tier.
// Implementations must be safe for concurrent use. Entries are never
// modified after creation, so reads need no coordination with writers.
type Store interface {
	// Get returns the stored MediaRef, or core.ErrNotFound.
	Get(ctx context.Context, status core.StatusCode) (*core.MediaRef, error)

	// Put stores ref and persists it before returning.
	Put(ctx context.Context, status core.StatusCode, ref *core.MediaRef) error

	// List returns every stored entry ordered by status code.
	List(ctx context.Context) ([]Entry, error)

	// Close releases any resources held by the store.
	Close() error
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Status < entries[j].Status })
}
