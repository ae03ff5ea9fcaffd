// Package api defines the wire-format types shared by the daemon HTTP API
// and its clients, plus converters from internal models.
//
// DTOs use camelCase JSON tags. Every response carries a success boolean so
// clients can branch before reading the payload. Timestamps use RFC3339 with
// milliseconds. Manifests pass through as json.RawMessage to avoid
// double-encoding the stored document.
package api
