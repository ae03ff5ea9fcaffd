package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"handoverphotos/internal/logging"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
)

// Job types handled by the photo pipeline.
const (
	TypeGenerateDerivatives = "generate-derivatives"
	TypeGenerateManifest    = "generate-manifest"
)

// PipelineOptions tunes a Pipeline.
type PipelineOptions struct {
	StatusCacheTTL   time.Duration
	BacklogThreshold int64
	Logger           *slog.Logger
	Notifier         notifications.Service
}

// Pipeline is the entry point the rest of the daemon uses for background work.
type Pipeline struct {
	broker    Broker
	registry  *Registry
	cache     *ttlcache.Cache[Handle, JobStatus]
	threshold int64
	logger    *slog.Logger
	notifier  notifications.Service

	backlogged atomic.Bool
}

// NewPipeline wraps broker. Handlers must be registered on registry before
// Start.
func NewPipeline(broker Broker, registry *Registry, opts PipelineOptions) *Pipeline {
	ttl := opts.StatusCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Pipeline{
		broker:   broker,
		registry: registry,
		cache: ttlcache.New(
			ttlcache.WithTTL[Handle, JobStatus](ttl),
			ttlcache.WithDisableTouchOnHit[Handle, JobStatus](),
			ttlcache.WithCapacity[Handle, JobStatus](100_000),
		),
		threshold: opts.BacklogThreshold,
		logger:    logging.NewComponentLogger(opts.Logger, "pipeline"),
		notifier:  notifier,
	}
}

// Broker exposes the underlying broker.
func (p *Pipeline) Broker() Broker { return p.broker }

// Registry exposes the handler registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Start starts the cache janitor and the broker.
func (p *Pipeline) Start(ctx context.Context) error {
	go p.cache.Start()
	if err := p.broker.Start(ctx); err != nil {
		p.cache.Stop()
		return err
	}
	return nil
}

// Stop stops the broker and the cache janitor.
func (p *Pipeline) Stop() {
	p.broker.Stop()
	p.cache.Stop()
}

// Enqueue marshals payload to JSON and hands it to the broker. It returns as
// soon as the job is stored.
func (p *Pipeline) Enqueue(ctx context.Context, jobType string, payload any) (Handle, error) {
	if _, ok := p.registry.Lookup(jobType); !ok {
		return "", services.Wrap(services.ErrValidation, "pipeline", "enqueue",
			fmt.Sprintf("unknown job type %q", jobType), nil)
	}
	var body []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		body = v
	case json.RawMessage:
		body = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "pipeline", "enqueue", "encode payload", err)
		}
		body = encoded
	}
	handle, err := p.broker.Enqueue(ctx, jobType, body)
	if err != nil {
		return "", err
	}
	logging.WithContext(services.WithJobID(ctx, handle.String()), p.logger).Debug("job enqueued",
		logging.String(logging.FieldJobType, jobType))
	return handle, nil
}

// Status returns the job status, serving terminal states from cache.
func (p *Pipeline) Status(ctx context.Context, handle Handle) (JobStatus, error) {
	if handle == "" {
		return JobStatus{}, services.Wrap(services.ErrValidation, "pipeline", "status", "job handle is empty", nil)
	}
	if item := p.cache.Get(handle); item != nil {
		return item.Value(), nil
	}
	status, err := p.broker.Status(ctx, handle)
	if err != nil {
		return JobStatus{}, err
	}
	if status.Terminal() {
		p.cache.Set(handle, status, ttlcache.DefaultTTL)
	}
	return status, nil
}

// Counts reports queue depth without touching storage.
func (p *Pipeline) Counts() Counts {
	return p.broker.Counts()
}

// Threshold is the configured backlog threshold.
func (p *Pipeline) Threshold() int64 { return p.threshold }

// Backlogged reports whether waiting plus active work has reached the
// threshold. A non-positive threshold disables the check.
func (p *Pipeline) Backlogged() bool {
	if p.threshold <= 0 {
		return false
	}
	return p.Counts().Depth() >= p.threshold
}

// CheckBacklog notifies once each time the pipeline crosses into backlog and
// reports whether it is currently backlogged.
func (p *Pipeline) CheckBacklog(ctx context.Context) bool {
	backlogged := p.Backlogged()
	if !backlogged {
		p.backlogged.Store(false)
		return false
	}
	if p.backlogged.CompareAndSwap(false, true) {
		depth := p.Counts().Depth()
		logging.WarnWithContext(p.logger, "job pipeline backlogged", "queue_backlog",
			logging.Int64("depth", depth),
			logging.Int64("threshold", p.threshold),
			logging.String(logging.FieldErrorHint, "add workers or throttle uploads"),
		)
		if err := p.notifier.NotifyBacklog(ctx, depth, p.threshold); err != nil {
			p.logger.Debug("backlog notification failed", logging.Error(err))
		}
	}
	return true
}

// HandlerHealth runs every registered handler's health check.
func (p *Pipeline) HandlerHealth(ctx context.Context) map[string]stage.Health {
	return p.registry.Health(ctx)
}

// ReclaimStale requeues jobs whose worker stopped heartbeating. Brokers that
// recover orphaned work themselves report zero.
func (p *Pipeline) ReclaimStale(ctx context.Context) (int64, error) {
	m, ok := p.broker.(Maintainer)
	if !ok {
		return 0, nil
	}
	return m.ReclaimStale(ctx)
}

// Prune removes finished jobs older than retention.
func (p *Pipeline) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	m, ok := p.broker.(Maintainer)
	if !ok || retention <= 0 {
		return 0, nil
	}
	return m.Prune(ctx, retention)
}
