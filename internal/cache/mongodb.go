package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"httpcat/internal/core"
)

type mongoCatDocument struct {
	Status    int    `bson:"_id"`
	CreatedAt int64  `bson:"created_at"`
	Data      []byte `bson:"data"`
}

// MongoDBStore stores cats in MongoDB, one document per status code.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore binds the reuploaded_cats collection. The status code is
// the document _id, so no extra index is needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{collection: database.Collection("reuploaded_cats")}, nil
}

// Get returns a cat by status.
func (s *MongoDBStore) Get(ctx context.Context, status core.StatusCode) (*core.MediaRef, error) {
	var doc mongoCatDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": int(status)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("query cat: %w", err)
	}

	ref, err := core.DeserializeMediaRef(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode cat: %w", err)
	}
	return ref, nil
}

// Put upserts a cat.
func (s *MongoDBStore) Put(ctx context.Context, status core.StatusCode, ref *core.MediaRef) error {
	payload, err := ref.Serialize()
	if err != nil {
		return err
	}

	_, err = s.collection.UpdateOne(ctx,
		bson.M{"_id": int(status)},
		bson.M{
			"$set":         bson.M{"data": payload},
			"$setOnInsert": bson.M{"created_at": time.Now().Unix()},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert cat: %w", err)
	}
	return nil
}

// List returns all cats ordered by status.
func (s *MongoDBStore) List(ctx context.Context) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list cats: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	for cursor.Next(ctx) {
		var doc mongoCatDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode cat document: %w", err)
		}
		ref, err := core.DeserializeMediaRef(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode cat payload %d: %w", doc.Status, err)
		}
		entries = append(entries, Entry{Status: core.StatusCode(doc.Status), Ref: ref})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate cats cursor: %w", err)
	}
	return entries, nil
}

// Close is a no-op; client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
