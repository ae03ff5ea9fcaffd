package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"handoverphotos/internal/config"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
)

// AsynqBroker runs jobs through Redis with asynq. Counts are refreshed from
// the queue info on every poll so reads stay in memory.
type AsynqBroker struct {
	registry  *Registry
	logger    *slog.Logger
	notifier  notifications.Service
	metrics   *Metrics
	queueName string
	workers   int
	poll      time.Duration
	retention time.Duration

	redisOpt  asynq.RedisClientOpt
	rdb       *redis.Client
	client    *asynq.Client
	inspector *asynq.Inspector

	counts counters

	mu      sync.Mutex
	running bool
	server  *asynq.Server
	cancel  context.CancelFunc
	loop    sync.WaitGroup
}

// NewAsynqBroker connects the asynq client and inspector to cfg.RedisAddr.
func NewAsynqBroker(cfg config.Jobs, registry *Registry, opts ...Option) (*AsynqBroker, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "jobs", "asynq broker", "jobs.redis_addr is empty", nil)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	o := applyOptions(opts)
	redisOpt := asynq.RedisClientOpt{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	b := &AsynqBroker{
		registry:  registry,
		logger:    logging.NewComponentLogger(o.logger, "jobs-asynq"),
		notifier:  o.notifier,
		metrics:   o.metrics,
		queueName: cfg.QueueName,
		workers:   max(cfg.Workers, 1),
		poll:      time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		retention: time.Duration(cfg.RetentionHours) * time.Hour,
		redisOpt:  redisOpt,
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
	if b.queueName == "" {
		b.queueName = "photos"
	}
	if b.poll <= 0 {
		b.poll = time.Second
	}
	b.counts.metrics = o.metrics
	return b, nil
}

// Name identifies the broker in status output.
func (b *AsynqBroker) Name() string { return config.BrokerRedis }

// Ping checks Redis connectivity.
func (b *AsynqBroker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "redis ping", b.redisOpt.Addr, err)
	}
	return nil
}

// Enqueue submits a task. Failed tasks are archived without retry; the
// uploading client owns the retry policy.
func (b *AsynqBroker) Enqueue(ctx context.Context, jobType string, payload []byte) (Handle, error) {
	task := asynq.NewTask(jobType, payload)
	info, err := b.client.EnqueueContext(ctx, task,
		asynq.Queue(b.queueName),
		asynq.MaxRetry(0),
		asynq.Retention(b.retention),
	)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "jobs", "enqueue", "submit asynq task", err)
	}
	b.counts.add(queue.JobWaiting, 1)
	return Handle(info.ID), nil
}

// Status maps the asynq task state onto the pipeline states.
func (b *AsynqBroker) Status(_ context.Context, handle Handle) (JobStatus, error) {
	info, err := b.inspector.GetTaskInfo(b.queueName, string(handle))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return JobStatus{}, services.Wrap(services.ErrNotFound, "jobs", "status", fmt.Sprintf("job %s", handle), nil)
		}
		return JobStatus{}, services.Wrap(services.ErrTransient, "jobs", "status", "inspect asynq task", err)
	}
	return statusFromTask(info), nil
}

func statusFromTask(info *asynq.TaskInfo) JobStatus {
	status := JobStatus{
		Handle:   Handle(info.ID),
		Type:     info.Type,
		Error:    info.LastErr,
		Attempts: info.Retried + 1,
	}
	switch info.State {
	case asynq.TaskStateActive:
		status.State = queue.JobActive
	case asynq.TaskStateCompleted:
		status.State = queue.JobCompleted
		status.Progress = 100
		if !info.CompletedAt.IsZero() {
			finished := info.CompletedAt
			status.FinishedAt = &finished
		}
	case asynq.TaskStateArchived:
		status.State = queue.JobFailed
		if !info.LastFailedAt.IsZero() {
			finished := info.LastFailedAt
			status.FinishedAt = &finished
		}
	default:
		status.State = queue.JobWaiting
	}
	if status.State == queue.JobActive && len(info.Result) > 0 {
		if p, err := strconv.Atoi(string(info.Result)); err == nil {
			status.Progress = p
		}
	}
	return status
}

// Counts returns the counters from the most recent queue info poll.
func (b *AsynqBroker) Counts() Counts {
	return b.counts.snapshot()
}

// RefreshCounts reads queue depth from Redis.
func (b *AsynqBroker) RefreshCounts() error {
	info, err := b.inspector.GetQueueInfo(b.queueName)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			b.counts.set(queue.JobCounts{})
			return nil
		}
		return err
	}
	b.counts.set(queue.JobCounts{
		Waiting:   int64(info.Pending + info.Scheduled + info.Retry),
		Active:    int64(info.Active),
		Completed: int64(info.Completed),
		Failed:    int64(info.Archived),
	})
	return nil
}

// Start launches the asynq server with a mux over the registry.
func (b *AsynqBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("job broker already running")
	}
	types := b.registry.Types()
	if len(types) == 0 {
		return errors.New("job handlers not configured")
	}
	if err := b.Ping(ctx); err != nil {
		return err
	}

	mux := asynq.NewServeMux()
	for _, jobType := range types {
		mux.HandleFunc(jobType, b.process)
	}
	server := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency: b.workers,
		Queues:      map[string]int{b.queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			if nerr := b.notifier.NotifyJobFailed(ctx, task.Type(), id, err.Error()); nerr != nil {
				b.logger.Debug("job failure notification failed", logging.Error(nerr))
			}
		}),
	})
	if err := server.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.server = server
	b.cancel = cancel
	b.running = true
	b.loop.Add(1)
	go b.pollCounts(runCtx)

	b.logger.Info("job broker started",
		logging.String("queue", b.queueName),
		logging.Int("workers", b.workers),
		logging.String("types", strings.Join(types, ",")),
	)
	return nil
}

// Stop shuts the server down and closes the Redis connections.
func (b *AsynqBroker) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	server := b.server
	b.running = false
	b.cancel = nil
	b.server = nil
	b.mu.Unlock()

	cancel()
	b.loop.Wait()
	server.Shutdown()
	_ = b.client.Close()
	_ = b.inspector.Close()
	_ = b.rdb.Close()
}

func (b *AsynqBroker) pollCounts(ctx context.Context) {
	defer b.loop.Done()
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		if err := b.RefreshCounts(); err != nil {
			b.logger.Warn("asynq queue info failed", logging.Error(err),
				logging.String(logging.FieldEventType, "queue_info_failed"),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *AsynqBroker) process(ctx context.Context, task *asynq.Task) error {
	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	job := &queue.Job{
		ID:       id,
		Type:     task.Type(),
		Payload:  task.Payload(),
		State:    queue.JobActive,
		Attempts: retried + 1,
	}
	jobCtx := services.WithJobType(services.WithJobID(ctx, id), task.Type())
	logger := logging.WithContext(jobCtx, b.logger)

	handler, ok := b.registry.Lookup(task.Type())
	if !ok {
		return fmt.Errorf("no handler registered for %q: %w", task.Type(), asynq.SkipRetry)
	}
	if writer := task.ResultWriter(); writer != nil {
		jobCtx = stage.WithProgress(jobCtx, func(progress int) {
			_, _ = writer.Write([]byte(strconv.Itoa(progress)))
		})
	}

	started := time.Now()
	err := execute(jobCtx, handler, job)
	elapsed := time.Since(started)
	if err != nil {
		b.metrics.observe(job.Type, queue.JobFailed, elapsed)
		details := services.Details(err)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.String("error_kind", details.Kind),
			logging.String(logging.FieldErrorHint, details.Hint),
		)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	b.metrics.observe(job.Type, queue.JobCompleted, elapsed)
	logger.Info("job completed", logging.Duration("elapsed", elapsed))
	return nil
}
