// Package preflight provides readiness checks for the directories and
// external services the handover photo daemon depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check as a
//     warning; a failing check does not stop the daemon.
//   - The CLI "handover status" command prints the same results as a table.
//
// Checks for optional services are skipped when the service is not selected
// in configuration.
package preflight
