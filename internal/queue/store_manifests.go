package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const manifestColumns = "id, scope, subject_id, revision, manifest_json, total_size, created_at"

func scanManifest(scanner rowScanner) (*ManifestRecord, error) {
	var (
		record     ManifestRecord
		scope      string
		body       string
		createdRaw string
	)
	if err := scanner.Scan(&record.ID, &scope, &record.SubjectID, &record.Revision, &body, &record.TotalSize, &createdRaw); err != nil {
		return nil, err
	}
	record.Scope = ManifestScope(scope)
	record.JSON = []byte(body)
	record.CreatedAt, _ = parseTimeString(createdRaw)
	return &record, nil
}

// PublishManifest stores a new manifest revision for the subject. Earlier
// revisions are never modified; the newest revision supersedes them.
func (s *Store) PublishManifest(ctx context.Context, scope ManifestScope, subjectID string, body []byte, totalSize int64) (*ManifestRecord, error) {
	if subjectID == "" {
		return nil, errors.New("manifest subject id is required")
	}
	if len(body) == 0 {
		return nil, errors.New("manifest body is empty")
	}
	var record *ManifestRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		record, err = s.insertManifest(ctx, tx, scope, subjectID, body, totalSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}
	return record, nil
}

func (s *Store) insertManifest(ctx context.Context, tx *sql.Tx, scope ManifestScope, subjectID string, body []byte, totalSize int64) (*ManifestRecord, error) {
	var revision int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) FROM manifests WHERE scope = ? AND subject_id = ?`,
		scope, subjectID,
	).Scan(&revision); err != nil {
		return nil, err
	}
	revision++
	now := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO manifests (scope, subject_id, revision, manifest_json, total_size, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		scope, subjectID, revision, string(body), totalSize, formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ManifestRecord{
		ID:        id,
		Scope:     scope,
		SubjectID: subjectID,
		Revision:  revision,
		JSON:      append([]byte(nil), body...),
		TotalSize: totalSize,
		CreatedAt: now,
	}, nil
}

// LatestManifest returns the newest revision for the subject, or nil when
// none has been published.
func (s *Store) LatestManifest(ctx context.Context, scope ManifestScope, subjectID string) (*ManifestRecord, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx),
		`SELECT `+manifestColumns+` FROM manifests WHERE scope = ? AND subject_id = ? ORDER BY revision DESC LIMIT 1`,
		scope, subjectID,
	)
	record, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest manifest: %w", err)
	}
	return record, nil
}

// ManifestRevisions lists every revision for the subject, oldest first.
func (s *Store) ManifestRevisions(ctx context.Context, scope ManifestScope, subjectID string) ([]*ManifestRecord, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx),
		`SELECT `+manifestColumns+` FROM manifests WHERE scope = ? AND subject_id = ? ORDER BY revision`,
		scope, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var records []*ManifestRecord
	for rows.Next() {
		record, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
