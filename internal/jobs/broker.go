package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"handoverphotos/internal/config"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/queue"
)

// Handle identifies an enqueued job.
type Handle string

// String returns the handle value.
func (h Handle) String() string { return string(h) }

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	Handle     Handle
	Type       string
	State      queue.JobState
	Progress   int
	Error      string
	Attempts   int
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s.State.Terminal()
}

// Counts is a point-in-time view of queue depth.
type Counts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
}

// Depth is the amount of unfinished work.
func (c Counts) Depth() int64 {
	return c.Waiting + c.Active
}

// Broker stores jobs and runs them with registered handlers.
type Broker interface {
	Name() string
	Enqueue(ctx context.Context, jobType string, payload []byte) (Handle, error)
	Status(ctx context.Context, handle Handle) (JobStatus, error)
	Counts() Counts
	Start(ctx context.Context) error
	Stop()
}

// Maintainer is implemented by brokers that need periodic housekeeping from
// the daemon. Redis-backed brokers handle retention on their own.
type Maintainer interface {
	ReclaimStale(ctx context.Context) (int64, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Option customises broker construction.
type Option func(*brokerOptions)

type brokerOptions struct {
	logger   *slog.Logger
	notifier notifications.Service
	metrics  *Metrics
	now      func() time.Time
}

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *brokerOptions) { o.logger = logger }
}

// WithNotifier sets the service told about failed jobs.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *brokerOptions) { o.notifier = notifier }
}

// WithMetrics mirrors counters and durations into Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(o *brokerOptions) { o.metrics = metrics }
}

// WithClock overrides the time source used for heartbeats and pruning.
func WithClock(now func() time.Time) Option {
	return func(o *brokerOptions) { o.now = now }
}

func applyOptions(opts []Option) brokerOptions {
	o := brokerOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(nil)
	}
	return o
}

// New selects the broker named by cfg.Jobs.Broker.
func New(cfg *config.Config, store *queue.Store, registry *Registry, opts ...Option) (Broker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("jobs: config is required")
	}
	switch cfg.Jobs.Broker {
	case config.BrokerRedis:
		return NewAsynqBroker(cfg.Jobs, registry, opts...)
	case config.BrokerSQLite, "":
		return NewSQLiteBroker(store, registry, cfg.Jobs, opts...)
	default:
		return nil, fmt.Errorf("jobs: unknown broker %q", cfg.Jobs.Broker)
	}
}
