package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"handoverphotos/internal/config"
	"handoverphotos/internal/daemon"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/storage"
)

// application holds the wired daemon and the resources it does not own.
type application struct {
	daemon *daemon.Daemon
	legacy migration.LegacyReader
}

// Close stops the daemon, closes the store, and releases the legacy reader.
func (a *application) Close() {
	if a.daemon != nil {
		_ = a.daemon.Close()
	}
	if a.legacy != nil {
		a.legacy.Close()
	}
}

func bootstrap(ctx context.Context, cfg *config.Config, store *queue.Store, backend storage.Backend, logger *slog.Logger) (*application, error) {
	notifier := notifications.NewService(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := jobs.NewRegistry()
	photos.RegisterHandlers(registry, store, backend, logger)

	broker, err := jobs.New(cfg, store, registry,
		jobs.WithLogger(logger),
		jobs.WithNotifier(gated(cfg.Notifications.JobFailures, notifier)),
		jobs.WithMetrics(jobs.NewMetrics(reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("create job broker: %w", err)
	}
	pipeline := jobs.NewPipeline(broker, registry, jobs.PipelineOptions{
		StatusCacheTTL:   time.Duration(cfg.Jobs.StatusCacheSeconds) * time.Second,
		BacklogThreshold: int64(cfg.Jobs.BacklogThreshold),
		Logger:           logger,
		Notifier:         gated(cfg.Notifications.Backlog, notifier),
	})

	gate, err := daemon.LoadGate(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}

	legacy := openLegacyReader(ctx, cfg, logger)
	migrator := migration.NewService(cfg, store, backend, legacy,
		migration.WithNotifier(gated(cfg.Notifications.Migration, notifier)),
		migration.WithMetrics(migration.NewMetrics(reg)),
		migration.WithLogger(logger),
	)

	d, err := daemon.New(cfg, store, logger, daemon.Deps{
		Backend:   backend,
		Gate:      gate,
		Pipeline:  pipeline,
		Photos:    photos.NewService(cfg, store, backend, pipeline, gate, logger),
		Migration: migrator,
		Notifier:  notifier,
		Metrics:   reg,
	})
	if err != nil {
		if legacy != nil {
			legacy.Close()
		}
		return nil, err
	}
	return &application{daemon: d, legacy: legacy}, nil
}

// openLegacyReader returns nil when the legacy source is unreachable; the
// migration endpoints then report a configuration error.
func openLegacyReader(ctx context.Context, cfg *config.Config, logger *slog.Logger) migration.LegacyReader {
	switch cfg.Migration.LegacySource {
	case config.LegacyPostgres:
		reader, err := migration.NewPostgresReader(ctx, cfg.Migration.LegacyDSN)
		if err != nil {
			logging.WarnWithContext(logger, "legacy database unavailable; migration disabled", "legacy_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check migration.legacy_dsn"),
			)
			return nil
		}
		return reader
	default:
		return migration.NewJSONReader(cfg.Migration.LegacyJSONPath)
	}
}

// gated returns notifier when the event class is enabled, else a noop.
func gated(enabled bool, notifier notifications.Service) notifications.Service {
	if !enabled {
		return notifications.NewService(nil)
	}
	return notifier
}
