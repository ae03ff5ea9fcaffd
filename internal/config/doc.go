// Package config loads, normalizes, and validates handover photo service
// configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HANDOVER_S3_BUCKET and HANDOVER_LEGACY_DSN. The Config type centralizes
// every knob the daemon and CLI need: storage backend, upload limits, job
// broker, rollout flags, and migration source.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
