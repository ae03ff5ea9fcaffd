// Package services defines the error vocabulary and context plumbing shared by
// the photo pipeline, the upload queue, and the migration service.
//
// Key responsibilities:
//   - Sentinel markers plus the Wrap helper so callers can classify failures
//     with errors.Is (validation vs transient vs processing).
//   - Retryable, which draws the line between failures the upload queue may
//     retry and failures that are final.
//   - Context helpers that stamp photo, job, batch, and correlation
//     identifiers for logging.
package services
