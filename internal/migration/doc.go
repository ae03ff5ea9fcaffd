// Package migration converts legacy (V1) handover and return protocols into
// the V2 photo pipeline.
//
// Legacy records come from a LegacyReader: the old PostgreSQL tables or a
// JSON dump. Each valid record is written as a V2 protocol keyed by its
// legacy id, and each legacy photo is fetched, stored, rendered, and given a
// manifest under a deterministic id, so migrating a record twice replaces
// rather than duplicates it. Runs are grouped into batches with ULID ids;
// a batch can be rolled back, and rolling back twice is a no-op.
//
// Per-record failures are counted in Progress and never abort a run.
package migration
