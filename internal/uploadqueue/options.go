package uploadqueue

import (
	"log/slog"
	"time"

	"handoverphotos/internal/config"
	"handoverphotos/internal/featuregate"
)

const (
	defaultMaxPhotos     = 20
	defaultMaxFileBytes  = 50 * 1024 * 1024
	defaultMaxRetries    = 3
	defaultBackoffBase   = time.Second
	defaultPollInterval  = 2 * time.Second
	defaultSubmitTimeout = 30 * time.Second
	defaultFeatureKey    = "PROTOCOL_V2_PHOTO_UPLOAD"
)

// Options holds the session context and limits of a queue. Zero values
// take the defaults.
type Options struct {
	ProtocolID    string
	UserID        string
	MaxPhotos     int
	MaxFileBytes  int64
	MaxRetries    int
	BackoffBase   time.Duration
	PollInterval  time.Duration
	SubmitTimeout time.Duration
	// Gate decides once, at construction, whether the queue accepts photos.
	// A nil gate leaves the queue enabled.
	Gate       *featuregate.Gate
	FeatureKey string
}

// OptionsFromConfig fills limits from the upload section.
func OptionsFromConfig(cfg *config.Config, protocolID, userID string) Options {
	return Options{
		ProtocolID:    protocolID,
		UserID:        userID,
		MaxPhotos:     cfg.Upload.MaxPhotos,
		MaxFileBytes:  cfg.MaxFileBytes(),
		MaxRetries:    cfg.Upload.MaxRetries,
		BackoffBase:   cfg.BackoffBase(),
		PollInterval:  cfg.PollInterval(),
		SubmitTimeout: cfg.SubmitTimeout(),
		FeatureKey:    cfg.Rollout.PhotoUploadKey,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxPhotos <= 0 {
		o.MaxPhotos = defaultMaxPhotos
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = defaultMaxFileBytes
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = defaultSubmitTimeout
	}
	if o.FeatureKey == "" {
		o.FeatureKey = defaultFeatureKey
	}
	return o
}

// Option customizes a Queue.
type Option func(*Queue)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(q *Queue) {
		if s != nil {
			q.scheduler = s
		}
	}
}

// WithRunner replaces how submissions and polls are started. Tests pass a
// runner that calls the task inline.
func WithRunner(r Runner) Option {
	return func(q *Queue) {
		if r != nil {
			q.run = r
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithCompletionHandler is called once per item that reaches completed.
func WithCompletionHandler(fn func(Item)) Option {
	return func(q *Queue) { q.onComplete = fn }
}

// WithFailureHandler is called once per item that fails permanently.
func WithFailureHandler(fn func(Item)) Option {
	return func(q *Queue) { q.onFailure = fn }
}
