package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"handoverphotos/internal/config"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
)

// Maintenance schedules.
const (
	reclaimSchedule = "@every 1m"
	pruneSchedule   = "@every 1h"
)

// maintenance runs periodic pipeline housekeeping.
type maintenance struct {
	pipeline  *jobs.Pipeline
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

func newMaintenance(cfg *config.Config, pipeline *jobs.Pipeline, logger *slog.Logger) (*maintenance, error) {
	m := &maintenance{
		pipeline:  pipeline,
		retention: time.Duration(cfg.Jobs.RetentionHours) * time.Hour,
		logger:    logging.NewComponentLogger(logger, "maintenance"),
	}
	m.cron = cron.New(cron.WithLogger(cronLogger{m.logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{m.logger})))
	if _, err := m.cron.AddFunc(reclaimSchedule, func() { m.reclaim(context.Background()) }); err != nil {
		return nil, err
	}
	if _, err := m.cron.AddFunc(pruneSchedule, func() { m.prune(context.Background()) }); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *maintenance) start() { m.cron.Start() }

// stop waits for running jobs to finish.
func (m *maintenance) stop() {
	<-m.cron.Stop().Done()
}

// reclaim requeues jobs with expired heartbeats and re-evaluates the backlog.
func (m *maintenance) reclaim(ctx context.Context) {
	n, err := m.pipeline.ReclaimStale(ctx)
	if err != nil {
		logging.WarnWithContext(m.logger, "reclaim stale jobs failed", "maintenance_reclaim",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database"),
		)
	} else if n > 0 {
		m.logger.Info("stale jobs requeued", logging.Int64("count", n))
	}
	m.pipeline.CheckBacklog(ctx)
}

// prune drops finished jobs older than the retention window.
func (m *maintenance) prune(ctx context.Context) {
	n, err := m.pipeline.Prune(ctx, m.retention)
	if err != nil {
		logging.WarnWithContext(m.logger, "prune finished jobs failed", "maintenance_prune",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database"),
		)
		return
	}
	if n > 0 {
		m.logger.Info("finished jobs pruned",
			logging.Int64("count", n),
			logging.Duration("retention", m.retention),
		)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Warn(msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
