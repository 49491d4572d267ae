// Package store wraps the MongoDB document store: collection names,
// index management, and bulk write helpers shared by the indexer and
// scheduler.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a single-document lookup finds nothing.
var ErrNotFound = errors.New("store: not found")

// Collection names, per §3/§6 of the data model.
const (
	CollLike    = "interactions.like"
	CollRepost  = "interactions.repost"
	CollPost    = "interactions.post"
	CollProfile = "app.bsky.actor.profile"
	CollBlock   = "app.bsky.graph.block"
	CollDynamic = "dynamic_data"
)

const (
	interactionTTL = 15 * 24 * time.Hour
	postTTL        = 8 * 24 * time.Hour
)

// Store owns the single shared Mongo client for a process.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and selects the named logical database.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes creates the indexes named in §4.4, idempotently.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	interactionIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "a", Value: 1}, {Key: "t", Value: 1}}},
		{Keys: bson.D{{Key: "s", Value: 1}, {Key: "t", Value: 1}}},
		{
			Keys:    bson.D{{Key: "t", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(interactionTTL.Seconds())),
		},
	}
	for _, collName := range []string{CollLike, CollRepost, CollPost} {
		if _, err := s.coll(collName).Indexes().CreateMany(ctx, interactionIdx); err != nil {
			return fmt.Errorf("store: ensure indexes on %s: %w", collName, err)
		}
	}

	blockIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "author", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "created_at", Value: 1}}},
	}
	if _, err := s.coll(CollBlock).Indexes().CreateMany(ctx, blockIdx); err != nil {
		return fmt.Errorf("store: ensure indexes on %s: %w", CollBlock, err)
	}

	postIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "indexed_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(postTTL.Seconds())),
		},
	}
	if _, err := s.coll(CollPost).Indexes().CreateMany(ctx, postIdx); err != nil {
		return fmt.Errorf("store: ensure indexes on %s: %w", CollPost, err)
	}

	return nil
}

// BulkWrite issues one unordered bulk write against the named
// collection, continuing past per-operation failures.
func (s *Store) BulkWrite(ctx context.Context, collName string, models []mongo.WriteModel) (*mongo.BulkWriteResult, error) {
	if len(models) == 0 {
		return &mongo.BulkWriteResult{}, nil
	}
	opts := options.BulkWrite().SetOrdered(false)
	res, err := s.coll(collName).BulkWrite(ctx, models, opts)
	if err != nil {
		// Duplicate-key and similar per-op failures surface as
		// BulkWriteException even with ordered=false; the caller logs
		// and moves on rather than retrying (§7.3).
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			return res, fmt.Errorf("store: bulk write %s: %w", collName, err)
		}
		return res, fmt.Errorf("store: bulk write %s: %w", collName, err)
	}
	return res, nil
}

// CollectionStats returns document counts for a fixed set of
// collections, for the /collStats endpoint.
func (s *Store) CollectionStats(ctx context.Context) (map[string]int64, error) {
	names := []string{CollLike, CollRepost, CollPost, CollProfile, CollBlock, CollDynamic}
	out := make(map[string]int64, len(names))
	for _, name := range names {
		count, err := s.coll(name).EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("store: count %s: %w", name, err)
		}
		out[name] = count
	}
	return out, nil
}

// Aggregate runs pipeline against the named collection and decodes
// results into out.
func (s *Store) Aggregate(ctx context.Context, collName string, pipeline mongo.Pipeline, out interface{}) error {
	cur, err := s.coll(collName).Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("store: aggregate %s: %w", collName, err)
	}
	defer cur.Close(ctx)
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("store: decode aggregate %s: %w", collName, err)
	}
	return nil
}

// Profiles returns the profile documents for the given DIDs, in no
// particular order. Missing DIDs are simply absent from the result.
func (s *Store) Profiles(ctx context.Context, dids []string) ([]Profile, error) {
	if len(dids) == 0 {
		return nil, nil
	}
	cur, err := s.coll(CollProfile).Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: dids}}}})
	if err != nil {
		return nil, fmt.Errorf("store: find profiles: %w", err)
	}
	defer cur.Close(ctx)
	var out []Profile
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode profiles: %w", err)
	}
	return out, nil
}
