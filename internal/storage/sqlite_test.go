package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	db := store.SQLiteDB()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_cats (status INTEGER PRIMARY KEY, data TEXT)`)
	if err != nil {
		t.Fatalf("failed to create test_cats table: %v", err)
	}

	const goroutines = 10
	const insertsPerGoroutine = 20

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*insertsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < insertsPerGoroutine; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				status := 100 + id*insertsPerGoroutine + j
				_, err := db.ExecContext(ctx, `INSERT INTO test_cats (status, data) VALUES (?, ?)`, status, "payload")
				cancel()
				if err != nil {
					errs <- fmt.Errorf("goroutine %d insert %d: %w", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_cats").Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != goroutines*insertsPerGoroutine {
		t.Errorf("got %d rows, want %d", count, goroutines*insertsPerGoroutine)
	}
}

func TestSQLiteWALEnabled(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "wal.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.SQLiteDB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestSQLiteCreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cats.db")
	store, err := NewSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	if store.Type() != TypeSQLite {
		t.Errorf("Type() = %q, want %q", store.Type(), TypeSQLite)
	}
	if store.PostgreSQLPool() != nil || store.MongoDatabase() != nil {
		t.Error("SQLite storage must not expose other backends")
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "cassandra"})
	if err == nil {
		t.Fatal("expected error for unknown storage type")
	}
	if IsDatabaseType("cassandra") {
		t.Error("IsDatabaseType(cassandra) = true")
	}
	if !IsDatabaseType(TypePostgreSQL) {
		t.Error("IsDatabaseType(postgresql) = false")
	}
}

func TestNewPostgreSQL_RequiresURL(t *testing.T) {
	if _, err := NewPostgreSQL(context.Background(), PostgreSQLConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestNewMongoDB_RequiresURL(t *testing.T) {
	if _, err := NewMongoDB(context.Background(), MongoDBConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
