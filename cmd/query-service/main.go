// query-service resolves identity, aggregates interactions per
// counterparty, and serves the authenticated HTTP API in §6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpmartins/bsky-codes/internal/config"
	"github.com/hpmartins/bsky-codes/internal/identity"
	"github.com/hpmartins/bsky-codes/internal/logging"
	"github.com/hpmartins/bsky-codes/internal/query"
	"github.com/hpmartins/bsky-codes/internal/queue"
	"github.com/hpmartins/bsky-codes/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Int("port", cfg.FartPort).Msg("query-service starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("query-service: shutting down")
		cancel()
	}()

	s, err := store.Connect(ctx, cfg.MongoURI, cfg.FartDB)
	if err != nil {
		log.Fatal().Err(err).Msg("query-service: connect store")
	}
	defer s.Close(context.Background())

	resolver, err := identity.New(cfg.IdentityDirectoryURL)
	if err != nil {
		log.Fatal().Err(err).Msg("query-service: build resolver")
	}

	q, err := queue.Connect(cfg.NATSURI)
	if err != nil {
		log.Fatal().Err(err).Msg("query-service: connect queue")
	}
	defer q.Close()

	cache, err := query.NewResultCache(ctx, q)
	if err != nil {
		log.Fatal().Err(err).Msg("query-service: build result cache")
	}

	srv := query.New(s, resolver, cache, cfg.FartKey, log)
	if err := srv.Start(ctx, fmt.Sprintf(":%d", cfg.FartPort)); err != nil {
		log.Fatal().Err(err).Msg("query-service: run")
	}

	log.Info().Msg("query-service stopped")
}
