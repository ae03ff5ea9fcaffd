package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InsertJob persists a new waiting job and returns it.
func (s *Store) InsertJob(ctx context.Context, jobType string, payload []byte) (*Job, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return nil, errors.New("job type is required")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	now := s.timestamp()
	id := uuid.NewString()
	if err := s.execOnly(
		ctx,
		`INSERT INTO jobs (id, job_type, payload_json, state, progress, attempts, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		id, jobType, string(payload), JobWaiting, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by id. A missing job yields nil without error.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextJob moves the oldest waiting job of one of the given types to
// active and returns it. It returns nil when nothing is waiting.
func (s *Store) ClaimNextJob(ctx context.Context, jobTypes ...string) (*Job, error) {
	var claimed *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = ?`
		args := []any{JobWaiting}
		if len(jobTypes) > 0 {
			query += ` AND job_type IN (` + makePlaceholders(len(jobTypes)) + `)`
			for _, jobType := range jobTypes {
				args = append(args, jobType)
			}
		}
		query += ` ORDER BY created_at, rowid LIMIT 1`

		job, err := scanJob(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		stamp := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, attempts = attempts + 1, started_at = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND state = ?`,
			JobActive, stamp, stamp, stamp, job.ID, JobWaiting,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		job.State = JobActive
		job.Attempts++
		job.StartedAt = &now
		job.LastHeartbeat = &now
		job.UpdatedAt = now
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return claimed, nil
}

// UpdateJobProgress records progress for an active job. Progress never
// moves backwards.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	if progress > 100 {
		progress = 100
	}
	now := s.timestamp()
	if err := s.execOnly(
		ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		progress, now, now, id, JobActive,
	); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// CompleteJob marks an active job completed.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, JobCompleted, "")
}

// FailJob marks an active job failed with the given message.
func (s *Store) FailJob(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "job failed"
	}
	return s.finishJob(ctx, id, JobFailed, message)
}

func (s *Store) finishJob(ctx context.Context, id string, state JobState, message string) error {
	now := s.timestamp()
	progress := "progress"
	if state == JobCompleted {
		progress = "100"
	}
	res, err := s.exec(
		ctx,
		`UPDATE jobs SET state = ?, progress = `+progress+`, error_message = ?, finished_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		state, nullableString(message), now, now, id, JobActive,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish job %s: %w", id, ErrJobNotActive)
	}
	return nil
}

// ErrJobNotActive is returned when a transition expects an active job.
var ErrJobNotActive = errors.New("job is not active")

// ListJobs returns jobs in the given states, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int, states ...JobState) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(states) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(states)) + `)`
		for _, state := range states {
			args = append(args, state)
		}
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
