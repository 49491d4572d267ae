// scheduler runs the cron-triggered leaderboard jobs in §4.8: periodic
// recomputation of top interactions and top blocks over a trailing
// window, each appended to the dynamic-data collection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpmartins/bsky-codes/internal/config"
	"github.com/hpmartins/bsky-codes/internal/logging"
	"github.com/hpmartins/bsky-codes/internal/scheduler"
	"github.com/hpmartins/bsky-codes/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("cron", cfg.ChronoTriggerTopInteractionsInterval).Msg("scheduler starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("scheduler: shutting down")
		cancel()
	}()

	s, err := store.Connect(ctx, cfg.MongoURI, cfg.FartDB)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: connect store")
	}
	defer s.Close(context.Background())

	sched, err := scheduler.New(s, log, cfg.ChronoTriggerTopInteractionsInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: build")
	}

	if err := sched.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler: run")
	}

	log.Info().Msg("scheduler stopped")
}
