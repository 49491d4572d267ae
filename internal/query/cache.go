package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hpmartins/bsky-codes/internal/queue"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrInFlight is returned when another caller is already computing the
// result for the same key.
var ErrInFlight = errors.New("query: request already in flight")

const resultTTL = 600 * time.Second

// ResultCache coalesces concurrent duplicate work per key using a
// semaphore entry in a shared KV bucket, so deduplication is correct
// across horizontally scaled query service instances (§5).
type ResultCache struct {
	kv jetstream.KeyValue
}

// NewResultCache opens (creating if needed) the KV bucket backing the
// cache.
func NewResultCache(ctx context.Context, q *queue.Queue) (*ResultCache, error) {
	kv, err := q.GetOrCreateKV(ctx, "query_cache", resultTTL)
	if err != nil {
		return nil, fmt.Errorf("query: open cache bucket: %w", err)
	}
	return &ResultCache{kv: kv}, nil
}

// Get returns the cached value for key if present.
func (c *ResultCache) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	entry, err := c.kv.Get(ctx, resultKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query: cache get: %w", err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return false, fmt.Errorf("query: cache decode: %w", err)
	}
	return true, nil
}

// TryAcquire atomically creates the semaphore entry for key. It
// returns ErrInFlight if another caller already holds it — Create is a
// create-if-absent operation on the KV bucket, so two concurrent
// callers can never both win (unlike a Get-then-Put check).
func (c *ResultCache) TryAcquire(ctx context.Context, key string) error {
	if _, err := c.kv.Create(ctx, semaphoreKey(key), []byte("1")); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrInFlight
		}
		return fmt.Errorf("query: semaphore acquire: %w", err)
	}
	return nil
}

// Release sets the cached result and clears the semaphore for key.
func (c *ResultCache) Release(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("query: cache encode: %w", err)
	}
	if _, err := c.kv.Put(ctx, resultKey(key), data); err != nil {
		return fmt.Errorf("query: cache put: %w", err)
	}
	if err := c.kv.Delete(ctx, semaphoreKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("query: semaphore release: %w", err)
	}
	return nil
}

func resultKey(key string) string    { return "result." + key }
func semaphoreKey(key string) string { return "semaphore." + key }
