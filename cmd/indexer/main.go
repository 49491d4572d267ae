// indexer pulls batches of decoded firehose events from the durable
// queue, extracts interaction edges, and bulk-writes them to the
// store.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpmartins/bsky-codes/internal/config"
	"github.com/hpmartins/bsky-codes/internal/indexer"
	"github.com/hpmartins/bsky-codes/internal/logging"
	"github.com/hpmartins/bsky-codes/internal/metrics"
	"github.com/hpmartins/bsky-codes/internal/queue"
	"github.com/hpmartins/bsky-codes/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Bool("enable", cfg.IndexerEnable).Msg("indexer starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("indexer: shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	mx := metrics.NewIndexer(reg)
	go metrics.Serve(cfg.MetricsPort, reg, log)

	s, err := store.Connect(ctx, cfg.MongoURI, cfg.FartDB)
	if err != nil {
		log.Fatal().Err(err).Msg("indexer: connect store")
	}
	defer s.Close(context.Background())

	if err := s.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("indexer: ensure indexes")
	}

	q, err := queue.Connect(cfg.NATSURI)
	if err != nil {
		log.Fatal().Err(err).Msg("indexer: connect queue")
	}
	defer q.Close()

	cons, err := q.EnsureConsumer(ctx, cfg.NATSStream, cfg.IndexerConsumer, cfg.FirehoseSubjectPrefix+".>")
	if err != nil {
		log.Fatal().Err(err).Msg("indexer: ensure consumer")
	}

	w := indexer.New(s, log, mx, cfg.IndexerEnable)
	if err := queue.PullSubscribe(ctx, cons, cfg.IndexerBatchSize, w.HandleBatch); err != nil && !errors.Is(err, queue.ErrShutdown) {
		log.Fatal().Err(err).Msg("indexer: pull subscribe")
	}

	log.Info().Msg("indexer stopped")
}
