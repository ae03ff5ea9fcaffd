// Package notifications delivers operator-facing events over ntfy.
//
// NewService returns a noop implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Individual
// event classes can be muted through the notifications section of the
// configuration.
package notifications
