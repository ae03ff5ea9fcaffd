package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrBatchNotFound is returned when a migration batch id is unknown.
var ErrBatchNotFound = errors.New("migration batch not found")

const protocolColumns = "id, protocol_type, rental_id, data_json, status, batch_id, legacy_created_at, created_at, migrated_at"

func scanProtocol(scanner rowScanner) (*Protocol, error) {
	var (
		protocol    Protocol
		rentalID    sql.NullString
		dataRaw     sql.NullString
		batchID     sql.NullString
		legacyRaw   sql.NullString
		createdRaw  string
		migratedRaw sql.NullString
	)
	if err := scanner.Scan(
		&protocol.ID,
		&protocol.Type,
		&rentalID,
		&dataRaw,
		&protocol.Status,
		&batchID,
		&legacyRaw,
		&createdRaw,
		&migratedRaw,
	); err != nil {
		return nil, err
	}
	protocol.RentalID = rentalID.String
	if dataRaw.Valid {
		protocol.DataJSON = []byte(dataRaw.String)
	}
	protocol.BatchID = batchID.String
	protocol.LegacyCreatedAt = parseNullTime(legacyRaw)
	protocol.CreatedAt, _ = parseTimeString(createdRaw)
	protocol.MigratedAt = parseNullTime(migratedRaw)
	return &protocol, nil
}

// UpsertProtocol writes a V2 protocol keyed by its id. Writing the same id
// again replaces the record instead of duplicating it.
func (s *Store) UpsertProtocol(ctx context.Context, protocol *Protocol) error {
	if protocol == nil || strings.TrimSpace(protocol.ID) == "" {
		return errors.New("protocol id is required")
	}
	if protocol.CreatedAt.IsZero() {
		protocol.CreatedAt = s.now().UTC()
	}
	if protocol.Status == "" {
		protocol.Status = "migrated"
	}
	var data any
	if len(protocol.DataJSON) > 0 {
		data = string(protocol.DataJSON)
	}
	if err := s.execOnly(
		ctx,
		`INSERT INTO protocols_v2 (`+protocolColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             protocol_type = excluded.protocol_type, rental_id = excluded.rental_id,
             data_json = excluded.data_json, status = excluded.status, batch_id = excluded.batch_id,
             legacy_created_at = excluded.legacy_created_at, migrated_at = excluded.migrated_at`,
		protocol.ID,
		protocol.Type,
		nullableString(protocol.RentalID),
		data,
		protocol.Status,
		nullableString(protocol.BatchID),
		nullableTime(protocol.LegacyCreatedAt),
		formatTime(protocol.CreatedAt),
		nullableTime(protocol.MigratedAt),
	); err != nil {
		return fmt.Errorf("upsert protocol: %w", err)
	}
	return nil
}

// GetProtocol fetches a V2 protocol. A missing protocol yields nil without error.
func (s *Store) GetProtocol(ctx context.Context, id string) (*Protocol, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `SELECT `+protocolColumns+` FROM protocols_v2 WHERE id = ?`, id)
	protocol, err := scanProtocol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get protocol: %w", err)
	}
	return protocol, nil
}

// ListProtocolsByBatch returns the V2 protocols written by a migration batch.
func (s *Store) ListProtocolsByBatch(ctx context.Context, batchID string) ([]*Protocol, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx),
		`SELECT `+protocolColumns+` FROM protocols_v2 WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	var protocols []*Protocol
	for rows.Next() {
		protocol, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		protocols = append(protocols, protocol)
	}
	return protocols, rows.Err()
}

const batchColumns = "id, status, dry_run, total, processed, failed, started_at, finished_at, rolled_back_at"

func scanBatch(scanner rowScanner) (*MigrationBatch, error) {
	var (
		batch       MigrationBatch
		status      string
		dryRun      int
		startedRaw  string
		finishedRaw sql.NullString
		rolledRaw   sql.NullString
	)
	if err := scanner.Scan(&batch.ID, &status, &dryRun, &batch.Total, &batch.Processed, &batch.Failed, &startedRaw, &finishedRaw, &rolledRaw); err != nil {
		return nil, err
	}
	batch.Status = BatchStatus(status)
	batch.DryRun = dryRun != 0
	batch.StartedAt, _ = parseTimeString(startedRaw)
	batch.FinishedAt = parseNullTime(finishedRaw)
	batch.RolledBackAt = parseNullTime(rolledRaw)
	return &batch, nil
}

// SaveBatch inserts or updates a migration batch summary.
func (s *Store) SaveBatch(ctx context.Context, batch *MigrationBatch) error {
	if batch == nil || batch.ID == "" {
		return errors.New("batch id is required")
	}
	if batch.StartedAt.IsZero() {
		batch.StartedAt = s.now().UTC()
	}
	if batch.Status == "" {
		batch.Status = BatchRunning
	}
	if err := s.execOnly(
		ctx,
		`INSERT INTO migration_batches (`+batchColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             status = excluded.status, total = excluded.total, processed = excluded.processed,
             failed = excluded.failed, finished_at = excluded.finished_at, rolled_back_at = excluded.rolled_back_at`,
		batch.ID,
		batch.Status,
		boolToInt(batch.DryRun),
		batch.Total,
		batch.Processed,
		batch.Failed,
		formatTime(batch.StartedAt),
		nullableTime(batch.FinishedAt),
		nullableTime(batch.RolledBackAt),
	); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

// GetBatch fetches a migration batch. A missing batch yields nil without error.
func (s *Store) GetBatch(ctx context.Context, id string) (*MigrationBatch, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `SELECT `+batchColumns+` FROM migration_batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// RollbackBatch deletes every V2 protocol, photo, and photo manifest
// written by the batch and marks it rolled back. It returns the number of
// protocols removed; a batch already rolled back yields zero.
func (s *Store) RollbackBatch(ctx context.Context, batchID string) (int, error) {
	var removed int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		removed = 0
		batch, err := scanBatch(tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM migration_batches WHERE id = ?`, batchID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		if batch.Status == BatchRolledBack {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM manifests WHERE scope = ? AND subject_id IN (SELECT id FROM photos WHERE batch_id = ?)`,
			ScopePhoto, batchID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE batch_id = ?`, batchID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM protocols_v2 WHERE batch_id = ?`, batchID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = int(n)
		stamp := s.timestamp()
		_, err = tx.ExecContext(ctx,
			`UPDATE migration_batches SET status = ?, rolled_back_at = ? WHERE id = ?`,
			BatchRolledBack, stamp, batchID,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("rollback batch: %w", err)
	}
	return removed, nil
}
