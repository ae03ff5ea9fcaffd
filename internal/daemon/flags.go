package daemon

import (
	"context"
	"log/slog"

	"handoverphotos/internal/config"
	"handoverphotos/internal/featuregate"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
)

// LoadGate builds the feature gate from configured seeds overlaid with the
// flags persisted in the store, and persists every later update. A seed
// only applies while the store has no row for its key.
func LoadGate(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*featuregate.Gate, error) {
	logger = logging.NewComponentLogger(logger, "featuregate")

	seeds := make([]featuregate.Flag, 0, len(cfg.Rollout.Flags))
	for _, seed := range cfg.Rollout.Flags {
		flag, err := featuregate.FlagFromSeed(seed)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, flag)
	}

	records, err := store.ListFlags(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "daemon", "load flags", "read persisted flags", err)
	}
	stored := make([]featuregate.Flag, 0, len(records))
	for _, record := range records {
		stored = append(stored, flagFromRecord(record))
	}

	gate := featuregate.New(featuregate.WithLogger(logger))
	gate.Load(seeds)
	gate.Load(stored)
	gate.OnChange(func(flag featuregate.Flag) error {
		return store.SaveFlag(context.WithoutCancel(ctx), recordFromFlag(flag))
	})

	logger.Info("feature flags loaded",
		logging.Int("seeded", len(seeds)),
		logging.Int("persisted", len(stored)),
	)
	return gate, nil
}

func flagFromRecord(r queue.FlagRecord) featuregate.Flag {
	flag := featuregate.Flag{
		Key:        r.Key,
		Enabled:    r.Enabled,
		AllowList:  append([]string(nil), r.AllowList...),
		Percentage: r.Percentage,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.WindowStart != nil || r.WindowEnd != nil {
		var w featuregate.Window
		if r.WindowStart != nil {
			w.Start = *r.WindowStart
		}
		if r.WindowEnd != nil {
			w.End = *r.WindowEnd
		}
		flag.Window = &w
	}
	return flag
}

func recordFromFlag(f featuregate.Flag) queue.FlagRecord {
	record := queue.FlagRecord{
		Key:        f.Key,
		Enabled:    f.Enabled,
		AllowList:  append([]string(nil), f.AllowList...),
		Percentage: f.Percentage,
		UpdatedAt:  f.UpdatedAt,
	}
	if f.Window != nil {
		if !f.Window.Start.IsZero() {
			start := f.Window.Start
			record.WindowStart = &start
		}
		if !f.Window.End.IsZero() {
			end := f.Window.End
			record.WindowEnd = &end
		}
	}
	return record
}
