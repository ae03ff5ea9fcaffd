package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"handoverphotos/internal/config"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
)

// SQLiteBroker keeps jobs in the queue store and executes them on an ants
// worker pool. A single dispatcher claims jobs only while the pool has a free
// worker, so a claimed job starts heartbeating immediately.
type SQLiteBroker struct {
	store    *queue.Store
	registry *Registry
	logger   *slog.Logger
	notifier notifications.Service
	metrics  *Metrics
	now      func() time.Time

	workers           int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	counts counters
	wake   chan struct{}

	mu       sync.Mutex
	running  bool
	pool     *ants.Pool
	cancel   context.CancelFunc
	loop     sync.WaitGroup
	inflight sync.WaitGroup
}

// NewSQLiteBroker builds a broker over store using the jobs configuration.
func NewSQLiteBroker(store *queue.Store, registry *Registry, cfg config.Jobs, opts ...Option) (*SQLiteBroker, error) {
	if store == nil {
		return nil, errors.New("jobs: queue store is required")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	o := applyOptions(opts)
	b := &SQLiteBroker{
		store:             store,
		registry:          registry,
		logger:            logging.NewComponentLogger(o.logger, "jobs"),
		notifier:          o.notifier,
		metrics:           o.metrics,
		now:               o.now,
		workers:           max(cfg.Workers, 1),
		pollInterval:      time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		heartbeatInterval: time.Duration(cfg.HeartbeatInterval) * time.Second,
		heartbeatTimeout:  time.Duration(cfg.HeartbeatTimeout) * time.Second,
		wake:              make(chan struct{}, 1),
	}
	if b.pollInterval <= 0 {
		b.pollInterval = 500 * time.Millisecond
	}
	b.counts.metrics = o.metrics
	return b, nil
}

// Name identifies the broker in status output.
func (b *SQLiteBroker) Name() string { return config.BrokerSQLite }

// Enqueue persists a waiting job and wakes the dispatcher.
func (b *SQLiteBroker) Enqueue(ctx context.Context, jobType string, payload []byte) (Handle, error) {
	job, err := b.store.InsertJob(ctx, jobType, payload)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "jobs", "enqueue", "persist job", err)
	}
	b.counts.add(queue.JobWaiting, 1)
	b.signal()
	return Handle(job.ID), nil
}

// Status loads the job row for handle.
func (b *SQLiteBroker) Status(ctx context.Context, handle Handle) (JobStatus, error) {
	job, err := b.store.GetJob(ctx, string(handle))
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrTransient, "jobs", "status", "load job", err)
	}
	if job == nil {
		return JobStatus{}, services.Wrap(services.ErrNotFound, "jobs", "status", fmt.Sprintf("job %s", handle), nil)
	}
	return statusFromJob(job), nil
}

func statusFromJob(job *queue.Job) JobStatus {
	return JobStatus{
		Handle:     Handle(job.ID),
		Type:       job.Type,
		State:      job.State,
		Progress:   job.Progress,
		Error:      job.Error,
		Attempts:   job.Attempts,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
}

// Counts returns in-memory depth counters.
func (b *SQLiteBroker) Counts() Counts {
	return b.counts.snapshot()
}

// RefreshCounts reseeds the counters from the store.
func (b *SQLiteBroker) RefreshCounts(ctx context.Context) error {
	jc, err := b.store.JobCounts(ctx)
	if err != nil {
		return err
	}
	b.counts.set(jc)
	return nil
}

// Start requeues jobs orphaned by a previous process and begins dispatching.
func (b *SQLiteBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("job broker already running")
	}
	if len(b.registry.Types()) == 0 {
		return errors.New("job handlers not configured")
	}

	if reset, err := b.store.ResetActiveJobs(ctx); err != nil {
		return fmt.Errorf("reset active jobs: %w", err)
	} else if reset > 0 {
		b.logger.Info("requeued jobs left active by previous run", logging.Int64("count", reset))
	}
	if err := b.RefreshCounts(ctx); err != nil {
		return fmt.Errorf("load job counts: %w", err)
	}

	pool, err := ants.NewPool(b.workers, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Minute,
		Nonblocking:    true,
		PanicHandler: func(p any) {
			logging.ErrorWithContext(b.logger, "job worker panicked", "job_worker_panic",
				logging.String("panic", fmt.Sprint(p)),
				logging.String(logging.FieldErrorHint, "inspect the handler for the failing job type"),
			)
		},
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.pool = pool
	b.cancel = cancel
	b.running = true
	b.loop.Add(1)
	go b.dispatch(runCtx)

	b.logger.Info("job broker started",
		logging.Int("workers", b.workers),
		logging.String("types", strings.Join(b.registry.Types(), ",")),
	)
	return nil
}

// Stop halts dispatching and waits for running jobs. Interrupted jobs stay
// active and are requeued on the next Start.
func (b *SQLiteBroker) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	pool := b.pool
	b.running = false
	b.cancel = nil
	b.mu.Unlock()

	cancel()
	b.loop.Wait()
	b.inflight.Wait()
	pool.Release()
}

// ReclaimStale returns active jobs whose heartbeat lapsed to waiting.
func (b *SQLiteBroker) ReclaimStale(ctx context.Context) (int64, error) {
	if b.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := b.now().Add(-b.heartbeatTimeout)
	reclaimed, err := b.store.ReclaimStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		b.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
		if err := b.RefreshCounts(ctx); err != nil {
			b.logger.Warn("refresh job counts failed", logging.Error(err))
		}
		b.signal()
	}
	return reclaimed, nil
}

// Prune deletes finished jobs older than olderThan.
func (b *SQLiteBroker) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	removed, err := b.store.PruneFinishedJobs(ctx, b.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		b.logger.Info("pruned finished jobs", logging.Int64("count", removed))
		if err := b.RefreshCounts(ctx); err != nil {
			b.logger.Warn("refresh job counts failed", logging.Error(err))
		}
	}
	return removed, nil
}

func (b *SQLiteBroker) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *SQLiteBroker) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-b.wake:
	case <-time.After(b.pollInterval):
	}
}

func (b *SQLiteBroker) dispatch(ctx context.Context) {
	defer b.loop.Done()
	types := b.registry.Types()
	for {
		if ctx.Err() != nil {
			return
		}
		if b.pool.Free() <= 0 {
			b.wait(ctx)
			continue
		}

		job, err := b.store.ClaimNextJob(ctx, types...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.ErrorWithContext(b.logger, "failed to claim next job", "job_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			b.wait(ctx)
			continue
		}
		if job == nil {
			b.wait(ctx)
			continue
		}
		b.counts.move(queue.JobWaiting, queue.JobActive)

		b.inflight.Add(1)
		claimed := job
		if err := b.pool.Submit(func() {
			defer b.inflight.Done()
			b.run(ctx, claimed)
		}); err != nil {
			b.inflight.Done()
			b.finish(ctx, b.logger, claimed, services.Wrap(services.ErrTransient, "jobs", "dispatch", "worker pool rejected job", err), 0)
		}
	}
}

func (b *SQLiteBroker) run(ctx context.Context, job *queue.Job) {
	started := b.now()
	jobCtx := services.WithJobType(services.WithJobID(ctx, job.ID), job.Type)
	logger := logging.WithContext(jobCtx, b.logger)

	handler, ok := b.registry.Lookup(job.Type)
	if !ok {
		b.finish(ctx, logger, job, services.Wrap(services.ErrConfiguration, "jobs", "run",
			fmt.Sprintf("no handler registered for %q", job.Type), nil), 0)
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hb sync.WaitGroup
	hb.Add(1)
	go b.heartbeat(hbCtx, &hb, logger, job.ID)

	jobCtx = stage.WithProgress(jobCtx, func(progress int) {
		if err := b.store.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			logger.Debug("job progress update failed", logging.Error(err))
		}
	})
	logger.Info("job started", logging.Int("attempt", job.Attempts))
	err := execute(jobCtx, handler, job)
	stopHeartbeat()
	hb.Wait()

	if err != nil && ctx.Err() != nil {
		logger.Info("job interrupted by shutdown; it will be requeued on restart")
		return
	}
	b.finish(ctx, logger, job, err, b.now().Sub(started))
}

func execute(ctx context.Context, handler stage.Handler, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrProcessing, "jobs", "execute", fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	if err := handler.Prepare(ctx, job); err != nil {
		return err
	}
	return handler.Execute(ctx, job)
}

func (b *SQLiteBroker) finish(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error, elapsed time.Duration) {
	defer b.signal()
	outcome := queue.JobCompleted
	var err error
	if jobErr == nil {
		err = b.store.CompleteJob(ctx, job.ID)
	} else {
		outcome = queue.JobFailed
		err = b.store.FailJob(ctx, job.ID, jobErr.Error())
	}
	if errors.Is(err, queue.ErrJobNotActive) {
		logger.Warn("job was reclaimed before it finished; result discarded",
			logging.String(logging.FieldEventType, "job_result_discarded"),
			logging.String(logging.FieldErrorHint, "raise jobs.heartbeat_timeout_seconds if this repeats"),
		)
		if err := b.RefreshCounts(ctx); err != nil {
			logger.Warn("refresh job counts failed", logging.Error(err))
		}
		return
	}
	if err != nil {
		logging.ErrorWithContext(logger, "failed to persist job result", "job_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}
	b.counts.move(queue.JobActive, outcome)
	b.metrics.observe(job.Type, outcome, elapsed)

	if jobErr == nil {
		logger.Info("job completed", logging.Duration("elapsed", elapsed))
		return
	}
	details := services.Details(jobErr)
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(jobErr),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, details.Hint),
	)
	if err := b.notifier.NotifyJobFailed(ctx, job.Type, job.ID, jobErr.Error()); err != nil {
		logger.Debug("job failure notification failed", logging.Error(err))
	}
}

func (b *SQLiteBroker) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, jobID string) {
	defer wg.Done()
	if b.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.store.UpdateJobHeartbeat(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
