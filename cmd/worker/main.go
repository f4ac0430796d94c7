// Command worker copies uploaded X-rays and generated reports to object
// storage. It consumes the tasks the server enqueues when archival is enabled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/healthscan/healthscan/internal/archive"
	"github.com/healthscan/healthscan/internal/config"
	"github.com/healthscan/healthscan/internal/logging"
	"github.com/healthscan/healthscan/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("component", "worker").Logger()
	if !cfg.ArchiveEnabled() {
		log.Fatal().Msg("REDIS_ADDR and S3_ENDPOINT must both be set")
	}

	store, err := archive.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure buckets")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ArchiveWorkers,
	})
	processor := worker.NewProcessor(store, log)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Int("concurrency", cfg.ArchiveWorkers).Msg("archive worker started")
	if err := server.Run(processor.Handler()); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
