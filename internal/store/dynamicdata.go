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

// AppendDynamicData inserts a new leaderboard snapshot. The
// collection is append-only; concurrent overlapping scheduler runs
// are not a correctness issue (§4.8).
func (s *Store) AppendDynamicData(ctx context.Context, name string, data interface{}) error {
	doc := DynamicData{Name: name, Data: data, CreatedAt: time.Now().UTC()}
	if _, err := s.coll(CollDynamic).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("store: append dynamic data %s: %w", name, err)
	}
	return nil
}

// LatestDynamicData returns the most recently appended snapshot for
// name, or ErrNotFound if none exists.
func (s *Store) LatestDynamicData(ctx context.Context, name string) (*DynamicData, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc DynamicData
	err := s.coll(CollDynamic).FindOne(ctx, bson.M{"name": name}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest dynamic data %s: %w", name, err)
	}
	return &doc, nil
}
