package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"handoverphotos/internal/config"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/preflight"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolved, exists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if !exists {
		logger.Info("no config file found; using defaults", logging.String("path", resolved))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open job store", "startup_failed", logging.Error(err))
		log.Fatalf("open job store: %v", err)
	}

	backend, err := storage.New(ctx, cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open object storage", "startup_failed", logging.Error(err))
		log.Fatalf("open object storage: %v", err)
	}

	for _, failed := range preflight.Failures(preflight.RunAll(ctx, cfg, backend)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run `handover status` for the full report"),
		)
	}

	app, err := bootstrap(ctx, cfg, store, backend, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "wire daemon", "startup_failed", logging.Error(err))
		log.Fatalf("wire daemon: %v", err)
	}
	defer app.Close()

	if err := app.daemon.Start(ctx); err != nil {
		logging.ErrorWithContext(logger, "daemon start", "startup_failed", logging.Error(err))
		log.Fatalf("daemon start: %v", err)
	}

	<-ctx.Done()
	logger.Info("handoverd shutting down")
}
