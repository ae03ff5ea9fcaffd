package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// JobCounts returns the number of jobs grouped by state.
func (s *Store) JobCounts(ctx context.Context) (JobCounts, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return JobCounts{}, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	var counts JobCounts
	for rows.Next() {
		var (
			state string
			count int64
		)
		if err := rows.Scan(&state, &count); err != nil {
			return JobCounts{}, err
		}
		switch JobState(state) {
		case JobWaiting:
			counts.Waiting = count
		case JobActive:
			counts.Active = count
		case JobCompleted:
			counts.Completed = count
		case JobFailed:
			counts.Failed = count
		}
	}
	return counts, rows.Err()
}

// PruneFinishedJobs deletes completed and failed jobs that finished before
// cutoff. Photo records keep their own terminal state.
func (s *Store) PruneFinishedJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(
		ctx,
		`DELETE FROM jobs WHERE state IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		JobCompleted, JobFailed, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune finished jobs: %w", err)
	}
	return res.RowsAffected()
}

var expectedTables = []string{"jobs", "photos", "manifests", "feature_flags", "protocols_v2", "migration_batches"}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctxOrBackground(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = struct{}{}
	}
	rows.Close()
	for _, table := range expectedTables {
		if _, ok := present[table]; !ok {
			health.MissingTables = append(health.MissingTables, table)
		}
	}
	sort.Strings(health.MissingTables)

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
