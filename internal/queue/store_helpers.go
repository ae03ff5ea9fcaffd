package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type rowScanner interface{ Scan(dest ...any) error }

const jobColumns = "id, job_type, payload_json, state, progress, attempts, error_message, created_at, updated_at, started_at, finished_at, last_heartbeat"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job          Job
		state        string
		payload      string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&state,
		&job.Progress,
		&job.Attempts,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}
	job.State = JobState(state)
	job.Payload = []byte(payload)
	job.Error = errorMessage.String
	job.CreatedAt, _ = parseTimeString(createdRaw)
	job.UpdatedAt, _ = parseTimeString(updatedRaw)
	job.StartedAt = parseNullTime(startedRaw)
	job.FinishedAt = parseNullTime(finishedRaw)
	job.LastHeartbeat = parseNullTime(heartbeatRaw)
	return &job, nil
}

const photoColumns = "id, protocol_id, user_id, file_name, content_type, status, progress, original_key, original_hash, original_size, width, height, urls_json, job_id, error_message, batch_id, created_at, updated_at, processed_at"

func scanPhoto(scanner rowScanner) (*Photo, error) {
	var (
		photo        Photo
		status       string
		userID       sql.NullString
		fileName     sql.NullString
		contentType  sql.NullString
		originalKey  sql.NullString
		originalHash sql.NullString
		urlsRaw      sql.NullString
		jobID        sql.NullString
		errorMessage sql.NullString
		batchID      sql.NullString
		createdRaw   string
		updatedRaw   string
		processedRaw sql.NullString
	)
	if err := scanner.Scan(
		&photo.ID,
		&photo.ProtocolID,
		&userID,
		&fileName,
		&contentType,
		&status,
		&photo.Progress,
		&originalKey,
		&originalHash,
		&photo.OriginalSize,
		&photo.Width,
		&photo.Height,
		&urlsRaw,
		&jobID,
		&errorMessage,
		&batchID,
		&createdRaw,
		&updatedRaw,
		&processedRaw,
	); err != nil {
		return nil, err
	}
	photo.Status = PhotoStatus(status)
	photo.UserID = userID.String
	photo.FileName = fileName.String
	photo.ContentType = contentType.String
	photo.OriginalKey = originalKey.String
	photo.OriginalHash = originalHash.String
	photo.JobID = jobID.String
	photo.Error = errorMessage.String
	photo.BatchID = batchID.String
	if urlsRaw.Valid && urlsRaw.String != "" {
		if err := json.Unmarshal([]byte(urlsRaw.String), &photo.URLs); err != nil {
			return nil, err
		}
	}
	photo.CreatedAt, _ = parseTimeString(createdRaw)
	photo.UpdatedAt, _ = parseTimeString(updatedRaw)
	photo.ProcessedAt = parseNullTime(processedRaw)
	return &photo, nil
}

func encodeURLs(urls map[string]string) (any, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
