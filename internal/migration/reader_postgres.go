package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"handoverphotos/internal/services"
)

// PostgresReader reads legacy records from the V1 handover_protocols and
// return_protocols tables.
type PostgresReader struct {
	pool *pgxpool.Pool
}

// NewPostgresReader connects to the legacy database and checks it answers.
func NewPostgresReader(ctx context.Context, dsn string) (*PostgresReader, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "migration", "postgres reader",
			"migration.legacy_dsn is not set (or set HANDOVER_LEGACY_DSN)", nil)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "migration", "postgres reader", "parse legacy dsn", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, services.Wrap(services.ErrTransient, "migration", "postgres reader", "ping legacy database", err)
	}
	return &PostgresReader{pool: pool}, nil
}

// Pool exposes the connection pool for preflight checks.
func (r *PostgresReader) Pool() *pgxpool.Pool { return r.pool }

// legacySelect reads one legacy table. Photos are stored as a JSON array of
// either URL strings or objects; a NULL column means no photos.
const legacySelect = `SELECT p.id::text, '%s', p.rental_id::text, p.created_at,
       COALESCE(p.photos::text, '[]'), COALESCE(p.pdf_url, ''),
       (to_jsonb(p) - 'photos')::text
  FROM %s p`

// buildLegacyQuery returns the UNION over both tables with filter applied.
func buildLegacyQuery(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(filter.ProtocolIDs) > 0 {
		args = append(args, filter.ProtocolIDs)
		conds = append(conds, fmt.Sprintf("p.id::text = ANY($%d)", len(args)))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, filter.StartDate)
		conds = append(conds, fmt.Sprintf("p.created_at >= $%d", len(args)))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, filter.EndDate)
		conds = append(conds, fmt.Sprintf("p.created_at <= $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	query := fmt.Sprintf(legacySelect, TypeHandover, "handover_protocols") + where +
		"\nUNION ALL\n" +
		fmt.Sprintf(legacySelect, TypeReturn, "return_protocols") + where +
		"\nORDER BY 4 NULLS LAST, 1"
	return query, args
}

// List returns the records matching filter.
func (r *PostgresReader) List(ctx context.Context, filter Filter) ([]LegacyRecord, error) {
	query, args := buildLegacyQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "list legacy", "query legacy protocols", err)
	}
	records, err := pgx.CollectRows(rows, scanLegacyRecord)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "list legacy", "scan legacy protocols", err)
	}
	return records, nil
}

// Get returns one record by id.
func (r *PostgresReader) Get(ctx context.Context, id string) (*LegacyRecord, error) {
	records, err := r.List(ctx, Filter{ProtocolIDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Close releases the pool.
func (r *PostgresReader) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func scanLegacyRecord(row pgx.CollectableRow) (LegacyRecord, error) {
	var (
		record    LegacyRecord
		rentalID  *string
		createdAt *time.Time
		photos    string
		data      string
	)
	if err := row.Scan(&record.ID, &record.Type, &rentalID, &createdAt, &photos, &record.PDFURL, &data); err != nil {
		return LegacyRecord{}, err
	}
	if rentalID != nil {
		record.RentalID = *rentalID
	}
	record.CreatedAt = createdAt
	// A malformed photos column leaves Photos nil so the record is rejected
	// as invalid instead of failing the whole listing.
	var list []LegacyPhoto
	if err := json.Unmarshal([]byte(photos), &list); err == nil {
		if list == nil {
			list = []LegacyPhoto{}
		}
		record.Photos = list
	}
	if data != "" {
		_ = json.Unmarshal([]byte(data), &record.Data)
	}
	return record, nil
}
