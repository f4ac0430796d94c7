// Command server runs the HealthScan web application.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/healthscan/healthscan/internal/classifier"
	"github.com/healthscan/healthscan/internal/config"
	"github.com/healthscan/healthscan/internal/llm"
	"github.com/healthscan/healthscan/internal/logging"
	"github.com/healthscan/healthscan/internal/netinfo"
	"github.com/healthscan/healthscan/internal/queue"
	"github.com/healthscan/healthscan/internal/report"
	"github.com/healthscan/healthscan/internal/server"
	"github.com/healthscan/healthscan/internal/signing"
	"github.com/healthscan/healthscan/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := netinfo.Listen(cfg.Port)
	if err != nil {
		if errors.Is(err, netinfo.ErrPortInUse) {
			log.Fatal().Int("port", cfg.Port).Msg("port is already in use, close the application using it and retry")
		}
		log.Fatal().Err(err).Msg("bind port")
	}

	onnx, err := classifier.LoadONNX(classifier.ONNXConfig{
		Path:       cfg.ModelPath,
		SharedLib:  cfg.ONNXRuntime,
		InputName:  cfg.ModelInput,
		OutputName: cfg.ModelOutput,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ModelPath).Msg("load model")
	}
	defer onnx.Close()
	log.Info().Str("path", cfg.ModelPath).Msg("model loaded")

	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("create upload dir")
	}

	store, closeStore, err := storage.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open patient store")
	}
	defer closeStore()
	if cfg.DatabaseURL == "" {
		log.Info().Str("path", cfg.SQLitePath).Msg("patient records stored in sqlite")
	} else {
		log.Info().Msg("patient records stored in postgres")
	}

	chat, err := llm.New(cfg.OllamaHost, cfg.ChatModel, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("init chat client")
	}

	deps := server.Deps{
		Store:     store,
		Diagnoser: classifier.New(onnx),
		Reports:   report.NewGenerator(chat, cfg.ReportPath, log),
		Signer:    signing.NewSigner(cfg.SigningKey),
		Logger:    log,
	}
	if cfg.ArchiveEnabled() {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		deps.Archiver = queue.NewEnqueuer(client)
		log.Info().Str("redis", cfg.RedisAddr).Msg("archival enabled")
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	logBanner(log, cfg)
	if cfg.OpenBrowser {
		log.Info().Msg("opening application in default browser")
		if err := netinfo.OpenBrowser(cfg.LocalURL()); err != nil {
			log.Info().Err(err).Msg("could not open a browser, use one of the URLs above")
		}
	}

	if err := <-done; err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func logBanner(log zerolog.Logger, cfg *config.Config) {
	log.Info().Msg("server is running, open the application at any of these URLs")
	log.Info().Str("url", cfg.LocalURL()).Msg("local computer")
	ips, err := netinfo.LocalIPv4()
	if err != nil {
		log.Warn().Err(err).Msg("list network addresses")
		return
	}
	for _, ip := range ips {
		log.Info().Str("url", "http://"+ip+":"+strconv.Itoa(cfg.Port)).Msg("network access")
	}
}
