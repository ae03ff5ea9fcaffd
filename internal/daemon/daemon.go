package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"handoverphotos/internal/api"
	"handoverphotos/internal/config"
	"handoverphotos/internal/featuregate"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/storage"
)

// Deps are the services the daemon runs and serves.
type Deps struct {
	Backend   storage.Backend
	Gate      *featuregate.Gate
	Pipeline  *jobs.Pipeline
	Photos    *photos.Service
	Migration *migration.Service
	Notifier  notifications.Service
	// Metrics is served on /metrics. Nil uses the default gatherer.
	Metrics *prometheus.Registry
}

// Daemon coordinates the job pipeline, maintenance, and the HTTP API, and
// enforces single-instance execution per data directory.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	deps   Deps

	lockPath string
	lock     *flock.Flock

	maintenance *maintenance
	api         *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, deps Deps) (*Daemon, error) {
	if cfg == nil || store == nil || deps.Backend == nil || deps.Pipeline == nil || deps.Photos == nil {
		return nil, errors.New("daemon requires config, store, storage backend, pipeline, and photo service")
	}
	if deps.Gate == nil {
		deps.Gate = featuregate.New(featuregate.WithLogger(logger))
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(nil)
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	m, err := newMaintenance(cfg, deps.Pipeline, logger)
	if err != nil {
		return nil, fmt.Errorf("schedule maintenance: %w", err)
	}
	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		deps:        deps,
		lockPath:    cfg.LockPath(),
		lock:        flock.New(cfg.LockPath()),
		maintenance: m,
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Handler exposes the HTTP API without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.server.Handler
}

// Start acquires the daemon lock, then starts the pipeline, maintenance,
// and the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another handoverd instance holds %s", d.lockPath)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.deps.Pipeline.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start pipeline: %w", err)
	}
	d.deps.Pipeline.CheckBacklog(d.ctx)
	d.maintenance.start()

	if err := d.api.start(d.ctx); err != nil {
		d.maintenance.stop()
		d.deps.Pipeline.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("handover daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.cfg.Paths.APIBind),
		logging.String("storage", d.deps.Backend.Name()),
		logging.String("broker", d.deps.Pipeline.Broker().Name()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop shuts down the API, maintenance, and pipeline, then releases the lock.
// A migration in progress is cancelled with the daemon context.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.maintenance.stop()
	d.deps.Pipeline.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("handover daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Storage:      d.deps.Backend.Name(),
		Broker:       d.deps.Pipeline.Broker().Name(),
		Counts:       api.FromCounts(d.deps.Pipeline.Counts()),
		Handlers:     api.HandlerHealthSlice(d.deps.Pipeline.HandlerHealth(ctx)),
		Flags:        len(d.deps.Gate.ListAll()),
	}
}

// runContext is the context background work started through the API runs
// under. It outlives the request and ends with the daemon.
func (d *Daemon) runContext() context.Context {
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}
