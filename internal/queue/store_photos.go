package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InsertPhoto persists a new photo record. A missing id is assigned.
func (s *Store) InsertPhoto(ctx context.Context, photo *Photo) error {
	if photo == nil {
		return errors.New("photo is nil")
	}
	if strings.TrimSpace(photo.ProtocolID) == "" {
		return errors.New("photo protocol id is required")
	}
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	if photo.Status == "" {
		photo.Status = PhotoProcessing
	}
	now := s.now().UTC()
	photo.CreatedAt = now
	photo.UpdatedAt = now
	return s.writePhoto(ctx, photo, false)
}

// UpsertPhoto inserts the photo or replaces the record with the same id.
// Migration relies on this to stay idempotent.
func (s *Store) UpsertPhoto(ctx context.Context, photo *Photo) error {
	if photo == nil || photo.ID == "" {
		return errors.New("photo id is required")
	}
	now := s.now().UTC()
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = now
	}
	photo.UpdatedAt = now
	return s.writePhoto(ctx, photo, true)
}

func (s *Store) writePhoto(ctx context.Context, photo *Photo, upsert bool) error {
	urls, err := encodeURLs(photo.URLs)
	if err != nil {
		return fmt.Errorf("encode photo urls: %w", err)
	}
	query := `INSERT INTO photos (` + photoColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if upsert {
		query += ` ON CONFLICT(id) DO UPDATE SET
            protocol_id = excluded.protocol_id, user_id = excluded.user_id, file_name = excluded.file_name,
            content_type = excluded.content_type, status = excluded.status, progress = excluded.progress,
            original_key = excluded.original_key, original_hash = excluded.original_hash,
            original_size = excluded.original_size, width = excluded.width, height = excluded.height,
            urls_json = excluded.urls_json, job_id = excluded.job_id, error_message = excluded.error_message,
            batch_id = excluded.batch_id, updated_at = excluded.updated_at, processed_at = excluded.processed_at`
	}
	if err := s.execOnly(ctx, query,
		photo.ID,
		photo.ProtocolID,
		nullableString(photo.UserID),
		nullableString(photo.FileName),
		nullableString(photo.ContentType),
		photo.Status,
		photo.Progress,
		nullableString(photo.OriginalKey),
		nullableString(photo.OriginalHash),
		photo.OriginalSize,
		photo.Width,
		photo.Height,
		urls,
		nullableString(photo.JobID),
		nullableString(photo.Error),
		nullableString(photo.BatchID),
		formatTime(photo.CreatedAt),
		formatTime(photo.UpdatedAt),
		nullableTime(photo.ProcessedAt),
	); err != nil {
		return fmt.Errorf("write photo: %w", err)
	}
	return nil
}

// GetPhoto fetches a photo by id. A missing photo yields nil without error.
func (s *Store) GetPhoto(ctx context.Context, id string) (*Photo, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id)
	photo, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return photo, nil
}

// UpdatePhoto persists mutable photo fields.
func (s *Store) UpdatePhoto(ctx context.Context, photo *Photo) error {
	urls, err := encodeURLs(photo.URLs)
	if err != nil {
		return fmt.Errorf("encode photo urls: %w", err)
	}
	photo.UpdatedAt = s.now().UTC()
	res, err := s.exec(
		ctx,
		`UPDATE photos
         SET status = ?, progress = ?, original_key = ?, original_hash = ?, original_size = ?, width = ?, height = ?,
             urls_json = ?, job_id = ?, error_message = ?, updated_at = ?, processed_at = ?
         WHERE id = ?`,
		photo.Status,
		photo.Progress,
		nullableString(photo.OriginalKey),
		nullableString(photo.OriginalHash),
		photo.OriginalSize,
		photo.Width,
		photo.Height,
		urls,
		nullableString(photo.JobID),
		nullableString(photo.Error),
		formatTime(photo.UpdatedAt),
		nullableTime(photo.ProcessedAt),
		photo.ID,
	)
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update photo %s: %w", photo.ID, sql.ErrNoRows)
	}
	return nil
}

// AttachPhotoJob records the background job processing a photo without
// touching fields the job itself may already have written.
func (s *Store) AttachPhotoJob(ctx context.Context, photoID, jobID string) error {
	res, err := s.exec(ctx,
		`UPDATE photos SET job_id = ?, updated_at = ? WHERE id = ?`,
		jobID, s.timestamp(), photoID,
	)
	if err != nil {
		return fmt.Errorf("attach photo job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attach photo job %s: %w", photoID, sql.ErrNoRows)
	}
	return nil
}

// CompletePhoto marks the photo completed and publishes its manifest in one
// transaction, so a completed photo always has a manifest and a failed one
// never does.
func (s *Store) CompletePhoto(ctx context.Context, photo *Photo, manifest []byte, totalSize int64) (*ManifestRecord, error) {
	if photo == nil || photo.ID == "" {
		return nil, errors.New("photo id is required")
	}
	if len(manifest) == 0 {
		return nil, errors.New("manifest body is empty")
	}
	urls, err := encodeURLs(photo.URLs)
	if err != nil {
		return nil, fmt.Errorf("encode photo urls: %w", err)
	}
	now := s.now().UTC()
	photo.Status = PhotoCompleted
	photo.Progress = 100
	photo.Error = ""
	photo.UpdatedAt = now
	photo.ProcessedAt = &now

	var record *ManifestRecord
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE photos
             SET status = ?, progress = ?, width = ?, height = ?, urls_json = ?, error_message = NULL,
                 updated_at = ?, processed_at = ?
             WHERE id = ?`,
			photo.Status, photo.Progress, photo.Width, photo.Height, urls,
			formatTime(now), formatTime(now), photo.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("photo %s: %w", photo.ID, sql.ErrNoRows)
		}
		record, err = s.insertManifest(ctx, tx, ScopePhoto, photo.ID, manifest, totalSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete photo: %w", err)
	}
	return record, nil
}

// ListPhotosByProtocol returns the photos of a protocol in capture order.
func (s *Store) ListPhotosByProtocol(ctx context.Context, protocolID string) ([]*Photo, error) {
	return s.queryPhotos(ctx, `SELECT `+photoColumns+` FROM photos WHERE protocol_id = ? ORDER BY created_at, rowid`, protocolID)
}

// ListPhotosByIDs returns the photos with the given ids in capture order.
func (s *Store) ListPhotosByIDs(ctx context.Context, ids []string) ([]*Photo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return s.queryPhotos(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE id IN (`+makePlaceholders(len(ids))+`) ORDER BY created_at, rowid`,
		args...)
}

// ListPhotosByBatch returns the photos written by a migration batch.
func (s *Store) ListPhotosByBatch(ctx context.Context, batchID string) ([]*Photo, error) {
	return s.queryPhotos(ctx, `SELECT `+photoColumns+` FROM photos WHERE batch_id = ? ORDER BY created_at, rowid`, batchID)
}

func (s *Store) queryPhotos(ctx context.Context, query string, args ...any) ([]*Photo, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	return photos, rows.Err()
}

// DeletePhoto removes a photo and its manifests. It reports whether a row
// was removed.
func (s *Store) DeletePhoto(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		_, err = tx.ExecContext(ctx, `DELETE FROM manifests WHERE scope = ? AND subject_id = ?`, ScopePhoto, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete photo: %w", err)
	}
	return removed, nil
}

// CountPhotosByProtocol returns how many photos a protocol holds.
func (s *Store) CountPhotosByProtocol(ctx context.Context, protocolID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctxOrBackground(ctx),
		`SELECT COUNT(1) FROM photos WHERE protocol_id = ?`, protocolID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}
