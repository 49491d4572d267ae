// Package indexer pulls batches of firehose events from the durable
// queue, extracts interaction edges, and bulk-writes them to the
// store.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpmartins/bsky-codes/internal/decode"
	"github.com/hpmartins/bsky-codes/internal/extractor"
	"github.com/hpmartins/bsky-codes/internal/metrics"
	"github.com/hpmartins/bsky-codes/internal/store"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

// Worker binds to the durable consumer and applies batches to the
// store. Enable=false runs in dry-run mode: batches are decoded and
// extracted but never written, and the batch is still acked.
type Worker struct {
	store  *store.Store
	log    zerolog.Logger
	mx     *metrics.Indexer
	enable bool
}

// New constructs a Worker.
func New(s *store.Store, log zerolog.Logger, mx *metrics.Indexer, enable bool) *Worker {
	return &Worker{store: s, log: log, mx: mx, enable: enable}
}

// HandleBatch decodes every message in msgs, accumulates write
// operations per target collection, issues one concurrent bulk write
// per collection, then acks the batch on its last message (ack policy
// "all" acks every prior message in the consumer).
func (w *Worker) HandleBatch(ctx context.Context, msgs []jetstream.Msg) error {
	w.mx.BatchSize.Observe(float64(len(msgs)))

	ops := make(map[string][]mongo.WriteModel)
	for _, msg := range msgs {
		w.mx.MessagesProcessed.Inc()

		var evt decode.Event
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			w.log.Warn().Err(err).Msg("indexer: decode message")
			w.mx.DecodeErrors.Inc()
			continue
		}
		var writes *extractor.Writes
		switch {
		case evt.Commit != nil:
			writes = extractor.Extract(*evt.Commit)
		case evt.Account != nil:
			writes = extractor.ExtractAccount(*evt.Account)
		case evt.Identity != nil:
			writes = extractor.ExtractIdentity(*evt.Identity)
		default:
			continue
		}

		for coll, models := range writes.ByCollection {
			ops[coll] = append(ops[coll], models...)
		}
	}

	if w.enable {
		if err := w.flush(ctx, ops); err != nil {
			w.log.Error().Err(err).Msg("indexer: bulk write batch")
		}
	}

	if len(msgs) > 0 {
		if err := msgs[len(msgs)-1].Ack(); err != nil {
			return fmt.Errorf("indexer: ack batch: %w", err)
		}
	}
	return nil
}

// flush issues one bulk write per collection concurrently.
func (w *Worker) flush(ctx context.Context, ops map[string][]mongo.WriteModel) error {
	g, gctx := errgroup.WithContext(ctx)
	for coll, models := range ops {
		coll, models := coll, models
		g.Go(func() error {
			if _, err := w.store.BulkWrite(gctx, coll, models); err != nil {
				w.mx.BulkWriteErrors.WithLabelValues(coll).Inc()
				w.log.Error().Err(err).Str("collection", coll).Msg("indexer: bulk write")
				// per §4.4/§7.3: log and continue, do not fail the batch
				return nil
			}
			return nil
		})
	}
	return g.Wait()
}
