// Package daemon coordinates the long-running handoverd process.
//
// It ties the job pipeline, cron maintenance, and the HTTP API into a single
// lifecycle with flock-based locking so only one daemon owns a data
// directory. The API covers photo upload and status, manifests, queue
// statistics, rollout flags, and the legacy migration. Flag updates made
// through the API are persisted by the gate observer installed in LoadGate.
//
// Keep orchestration here: photo ingest, job execution, and migration logic
// live in their own packages while the daemon focuses on startup, shutdown,
// and routing.
package daemon
