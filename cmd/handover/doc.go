// Package main hosts the handover CLI.
//
// Commands talk to handoverd over its HTTP API. The upload command drives the
// client-side upload queue, so capture limits, retries and status polling
// behave exactly as they would in the field app. Hash and config commands
// work offline.
package main
