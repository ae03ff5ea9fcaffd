package queue

import (
	"context"
	"fmt"
	"time"
)

// UpdateJobHeartbeat refreshes the heartbeat of an active job.
func (s *Store) UpdateJobHeartbeat(ctx context.Context, id string) error {
	now := s.timestamp()
	if err := s.execOnly(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		now, now, id, JobActive,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleJobs returns active jobs whose heartbeat is older than cutoff
// to waiting so another worker can pick them up.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(
		ctx,
		`UPDATE jobs
         SET state = ?, progress = 0, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE state = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		JobWaiting,
		s.timestamp(),
		JobActive,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetActiveJobs moves every active job back to waiting. The daemon calls
// it at startup since no worker can own a job across restarts.
func (s *Store) ResetActiveJobs(ctx context.Context) (int64, error) {
	res, err := s.exec(
		ctx,
		`UPDATE jobs SET state = ?, progress = 0, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE state = ?`,
		JobWaiting, s.timestamp(), JobActive,
	)
	if err != nil {
		return 0, fmt.Errorf("reset active jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailedJobs moves failed jobs back to waiting. With no ids every
// failed job is retried.
func (s *Store) RetryFailedJobs(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE jobs
        SET state = ?, progress = 0, error_message = NULL, started_at = NULL, finished_at = NULL, updated_at = ?
        WHERE state = ?`
	args := []any{JobWaiting, s.timestamp(), JobFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}
