package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
)

// mongoStore implements KVStore on a MongoDB collection of
// {_id: <key>, value: <json string>} documents. It honors the same contract
// as the Redis and memory backends, so the ledger code never sees the
// difference.
type mongoStore struct {
	coll   *mongo.Collection
	prefix string
}

type kvDocument struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// NewMongoClient builds a connected Mongo client from configuration.
func NewMongoClient(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// NewMongoStore wraps a Mongo collection as a KVStore with a key prefix.
func NewMongoStore(client *mongo.Client, cfg config.MongoConfig, prefix string) KVStore {
	return &mongoStore{
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		prefix: prefix,
	}
}

func (s *mongoStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *mongoStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var doc kvDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": s.buildKey(key)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("mongo find %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc.Value), dest); err != nil {
		return true, fmt.Errorf("failed to decode value at %q: %w", key, err)
	}
	return true, nil
}

func (s *mongoStore) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	_, err = s.coll.ReplaceOne(ctx,
		bson.M{"_id": s.buildKey(key)},
		kvDocument{Key: s.buildKey(key), Value: string(raw)},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo set %q: %w", key, err)
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.buildKey(key)})
	if err != nil {
		return false, fmt.Errorf("mongo delete %q: %w", key, err)
	}
	return res.DeletedCount > 0, nil
}
