// firehose-subscriber maintains the upstream repository-sync
// subscription and republishes typed events onto the internal durable
// queue, one subject per collection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpmartins/bsky-codes/internal/config"
	"github.com/hpmartins/bsky-codes/internal/firehose"
	"github.com/hpmartins/bsky-codes/internal/logging"
	"github.com/hpmartins/bsky-codes/internal/metrics"
	"github.com/hpmartins/bsky-codes/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("host", cfg.FirehoseHost).Msg("firehose-subscriber starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("firehose-subscriber: shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	mx := metrics.NewFirehose(reg)
	go metrics.Serve(cfg.MetricsPort, reg, log)

	q, err := queue.Connect(cfg.NATSURI)
	if err != nil {
		log.Fatal().Err(err).Msg("firehose-subscriber: connect queue")
	}
	defer q.Close()

	if _, err := q.CreateStream(ctx, queue.StreamConfig{
		Name:       cfg.NATSStream,
		Subjects:   []string{cfg.FirehoseSubjectPrefix + ".>"},
		MaxAgeDays: cfg.NATSStreamMaxAgeDays,
		MaxBytesGB: cfg.NATSStreamMaxSizeGB,
	}); err != nil {
		log.Fatal().Err(err).Msg("firehose-subscriber: create stream")
	}

	sub := firehose.New(cfg.FirehoseHost, q, cfg.FirehoseSubjectPrefix, cfg.FirehoseCheckpoint, log, mx)
	if err := sub.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("firehose-subscriber: run")
	}

	log.Info().Msg("firehose-subscriber stopped")
}
