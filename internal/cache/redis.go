package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"httpcat/internal/core"
)

// DefaultRedisKey is the hash holding all reuploaded cats.
const DefaultRedisKey = "httpcat:reuploaded_cats"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Key is the hash key (defaults to "httpcat:reuploaded_cats")
	Key string
}

// RedisStore keeps cats in a single Redis hash: field = status code,
// value = serialized MediaRef. Entries never expire.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}

	slog.Info("redis cat store connected", "key", key)

	return &RedisStore{
		client: client,
		key:    key,
	}, nil
}

// Get reads one hash field.
func (s *RedisStore) Get(ctx context.Context, status core.StatusCode) (*core.MediaRef, error) {
	data, err := s.client.HGet(ctx, s.key, status.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cat from redis: %w", err)
	}

	ref, err := core.DeserializeMediaRef(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cat from redis: %w", err)
	}
	return ref, nil
}

// Put writes one hash field.
func (s *RedisStore) Put(ctx context.Context, status core.StatusCode, ref *core.MediaRef) error {
	data, err := ref.Serialize()
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, status.String(), data).Err(); err != nil {
		return fmt.Errorf("failed to set cat in redis: %w", err)
	}
	return nil
}

// List reads the whole hash.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cats from redis: %w", err)
	}

	entries := make([]Entry, 0, len(fields))
	for field, value := range fields {
		status, err := core.ParseStatusCode(field)
		if err != nil {
			slog.Warn("skipping invalid redis cat field", "key", s.key, "field", field)
			continue
		}
		ref, err := core.DeserializeMediaRef([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("failed to parse cat %s from redis: %w", field, err)
		}
		entries = append(entries, Entry{Status: status, Ref: ref})
	}
	sortEntries(entries)
	return entries, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
