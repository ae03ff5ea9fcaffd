// Package queue persists background jobs, photo records, published
// manifests, feature flags, and migrated V2 protocols in SQLite.
//
// The Store owns the database connection, schema initialization, busy
// retries, and the job state transitions (waiting, active, completed,
// failed) including heartbeat tracking and stale-job reclaim. Manifests are
// append-only: publishing for a subject inserts a new revision and never
// rewrites an earlier one.
//
// The schema is versioned in schema.go. When schema.sql changes, bump
// schemaVersion; a database from any other version is rejected with
// ErrSchemaMismatch.
package queue
