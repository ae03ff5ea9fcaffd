package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SaveFlag inserts or replaces a persisted flag.
func (s *Store) SaveFlag(ctx context.Context, flag FlagRecord) error {
	var allow any
	if len(flag.AllowList) > 0 {
		data, err := json.Marshal(flag.AllowList)
		if err != nil {
			return fmt.Errorf("encode allow list: %w", err)
		}
		allow = string(data)
	}
	if err := s.execOnly(
		ctx,
		`INSERT INTO feature_flags (flag_key, enabled, allow_list_json, percentage, window_start, window_end, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(flag_key) DO UPDATE SET
             enabled = excluded.enabled, allow_list_json = excluded.allow_list_json,
             percentage = excluded.percentage, window_start = excluded.window_start,
             window_end = excluded.window_end, updated_at = excluded.updated_at`,
		flag.Key,
		boolToInt(flag.Enabled),
		allow,
		flag.Percentage,
		nullableTime(flag.WindowStart),
		nullableTime(flag.WindowEnd),
		s.timestamp(),
	); err != nil {
		return fmt.Errorf("save flag %s: %w", flag.Key, err)
	}
	return nil
}

// ListFlags returns every persisted flag ordered by key.
func (s *Store) ListFlags(ctx context.Context) ([]FlagRecord, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx),
		`SELECT flag_key, enabled, allow_list_json, percentage, window_start, window_end, updated_at
         FROM feature_flags ORDER BY flag_key`)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var flags []FlagRecord
	for rows.Next() {
		var (
			flag       FlagRecord
			enabled    int
			allowRaw   *string
			startRaw   *string
			endRaw     *string
			updatedRaw string
		)
		if err := rows.Scan(&flag.Key, &enabled, &allowRaw, &flag.Percentage, &startRaw, &endRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		flag.Enabled = enabled != 0
		if allowRaw != nil && *allowRaw != "" {
			if err := json.Unmarshal([]byte(*allowRaw), &flag.AllowList); err != nil {
				return nil, fmt.Errorf("decode allow list for %s: %w", flag.Key, err)
			}
		}
		flag.WindowStart = parseOptionalTime(startRaw)
		flag.WindowEnd = parseOptionalTime(endRaw)
		flag.UpdatedAt, _ = parseTimeString(updatedRaw)
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

func parseOptionalTime(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	parsed, err := parseTimeString(*raw)
	if err != nil {
		return nil
	}
	return &parsed
}
