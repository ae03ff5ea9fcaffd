// Package logging assembles structured slog loggers for the daemon, the CLI,
// and tests.
//
// It owns the console and JSON handlers, level parsing, and output plumbing,
// and exposes context-aware helpers so job handlers can tag log lines with
// photo, job, and batch identifiers. The console handler prints those
// identifiers as a bracketed subject after the message. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
