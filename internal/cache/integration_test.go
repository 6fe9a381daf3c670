//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"httpcat/internal/storage"
)

func TestPostgreSQLStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("httpcat_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	url, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := storage.NewPostgreSQL(ctx, storage.PostgreSQLConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := createDatabaseStore(ctx, db)
	require.NoError(t, err)
	runStoreContract(t, store)
}

func TestMongoDBStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err, "failed to start MongoDB container")
	t.Cleanup(func() { _ = mongoContainer.Terminate(context.Background()) })

	url, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := storage.NewMongoDB(ctx, storage.MongoDBConfig{URL: url, Database: "httpcat_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := createDatabaseStore(ctx, db)
	require.NoError(t, err)
	runStoreContract(t, store)
}
