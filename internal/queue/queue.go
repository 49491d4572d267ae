// Package queue wraps the NATS JetStream primitives the rest of the
// module is built on: a durable stream, a key/value bucket for cursor
// state, and pull-consumer batch delivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrShutdown is returned by PullSubscribe's callback loop when it
// exits because the context was canceled.
var ErrShutdown = errors.New("queue: shutdown requested")

// Queue owns one NATS connection and its JetStream context, shared by
// every component in a process per the single-connection resource
// policy.
type Queue struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials uri and returns a Queue wrapping the resulting
// JetStream context.
func Connect(uri string) (*Queue, error) {
	conn, err := nats.Connect(uri, nats.Name("bsky-codes"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("queue: connect: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: jetstream: %w", err)
	}
	return &Queue{conn: conn, js: js}, nil
}

// Close drains and closes the underlying connection.
func (q *Queue) Close() {
	q.conn.Drain()
}

// Publish appends data to subject with at-least-once delivery.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := q.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("queue: publish %s: %w", subject, err)
	}
	return nil
}

// StreamConfig describes the durable stream's retention policy.
type StreamConfig struct {
	Name         string
	Subjects     []string
	MaxAgeDays   int
	MaxBytesGB   int
}

// CreateStream idempotently creates or updates the named stream:
// retention "limits", discard policy "old", file storage, compressed.
func (q *Queue) CreateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	jsCfg := jetstream.StreamConfig{
		Name:        cfg.Name,
		Subjects:    cfg.Subjects,
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Compression: jetstream.S2Compression,
		MaxAge:      time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		MaxBytes:    int64(cfg.MaxBytesGB) * 1024 * 1024 * 1024,
	}

	stream, err := q.js.Stream(ctx, cfg.Name)
	if err == nil {
		updated, err := q.js.UpdateStream(ctx, jsCfg)
		if err != nil {
			return nil, fmt.Errorf("queue: update stream %s: %w", cfg.Name, err)
		}
		return updated, nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, fmt.Errorf("queue: lookup stream %s: %w", cfg.Name, err)
	}
	_ = stream

	created, err := q.js.CreateStream(ctx, jsCfg)
	if err != nil {
		return nil, fmt.Errorf("queue: create stream %s: %w", cfg.Name, err)
	}
	return created, nil
}

// GetOrCreateKV returns the named key/value bucket, creating it with
// the given TTL (0 disables expiry) if it does not exist.
func (q *Queue) GetOrCreateKV(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("queue: lookup kv bucket %s: %w", bucket, err)
	}

	kv, err = q.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// EnsureConsumer idempotently creates the durable pull consumer used
// by the indexer: filter firehose.>, ack policy "all" (a Fetch batch
// acks entirely on its last message), 60s ack wait, unlimited
// max-ack-pending.
func (q *Queue) EnsureConsumer(ctx context.Context, streamName, consumerName, filterSubject string) (jetstream.Consumer, error) {
	cons, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckAllPolicy,
		AckWait:       60 * time.Second,
		MaxAckPending: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: ensure consumer %s: %w", consumerName, err)
	}
	return cons, nil
}

// BatchHandler processes one pulled batch of messages. Implementations
// must Ack the last message in the batch once the batch has been
// durably applied; under AckAllPolicy that ack also covers every
// earlier message in the batch.
type BatchHandler func(ctx context.Context, msgs []jetstream.Msg) error

// PullSubscribe repeatedly fetches up to batchSize messages from cons
// with a short fetch timeout, hands each non-empty batch to handle,
// and stops cleanly when ctx is canceled.
func PullSubscribe(ctx context.Context, cons jetstream.Consumer, batchSize int, handle BatchHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ErrShutdown
		default:
		}

		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(1*time.Second), jetstream.FetchHeartbeat(200*time.Millisecond))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ErrShutdown
			}
			return fmt.Errorf("queue: fetch: %w", err)
		}

		var msgs []jetstream.Msg
		for msg := range batch.Messages() {
			msgs = append(msgs, msg)
		}
		if err := batch.Error(); err != nil {
			return fmt.Errorf("queue: fetch batch: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}

		if err := handle(ctx, msgs); err != nil {
			return err
		}
	}
}
