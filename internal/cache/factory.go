package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"httpcat/config"
	"httpcat/internal/pluginconfig"
	"httpcat/internal/storage"
)

// Result holds the initialized durable store and optional owned storage.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases resources held by the store.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the durable store selected by cfg.Store.Type.
// pluginCfg is required for the "config" type and ignored otherwise.
func New(ctx context.Context, cfg *config.Config, pluginCfg *pluginconfig.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	storeType := cfg.Store.Type
	if storeType == "" {
		storeType = TypeConfig
	}

	switch storeType {
	case TypeConfig:
		s, err := NewConfigStore(pluginCfg)
		if err != nil {
			return nil, err
		}
		slog.Info("using plugin config cat store", "path", pluginCfg.Path())
		return &Result{Store: s}, nil

	case TypeMemory:
		slog.Warn("using in-memory cat store; reuploaded cats will not survive restarts")
		return &Result{Store: NewMemoryStore()}, nil

	case TypeRedis:
		s, err := NewRedisStore(RedisConfig{
			URL: cfg.Store.Redis.URL,
			Key: cfg.Store.Redis.Key,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Store: s}, nil

	case TypeSQLite, TypePostgreSQL, TypeMongoDB:
		db, err := storage.New(ctx, buildStorageConfig(cfg, storeType))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		s, err := createDatabaseStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("using database cat store", "type", storeType)
		return &Result{Store: s, Storage: db}, nil

	default:
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
}

func buildStorageConfig(cfg *config.Config, storeType string) storage.Config {
	storageCfg := storage.Config{
		Type: storeType,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}

	if storageCfg.SQLite.Path == "" {
		storageCfg.SQLite.Path = storage.DefaultSQLitePath
	}
	if storageCfg.MongoDB.Database == "" {
		storageCfg.MongoDB.Database = storage.DefaultMongoDatabase
	}
	return storageCfg
}

func createDatabaseStore(ctx context.Context, store storage.Storage) (Store, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB())
	case storage.TypePostgreSQL:
		pool := store.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		pgxPool, ok := pool.(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("invalid PostgreSQL pool type: %T", pool)
		}
		return NewPostgreSQLStore(ctx, pgxPool)
	case storage.TypeMongoDB:
		db := store.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		mongoDB, ok := db.(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("invalid MongoDB database type: %T", db)
		}
		return NewMongoDBStore(mongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
