// Package uploadqueue is the client-resident side of photo ingest.
//
// A Queue owns the photos captured for one protocol session. Each captured
// file becomes an Item that moves pending → uploading → processing →
// completed, or to failed when submission or polling goes wrong. Transient
// failures are retried with exponential backoff up to a fixed ceiling;
// remote processing failures are terminal. Subscribers receive the full item
// list after every change, in the order the changes happened.
//
// Submission and status polling go through the Submitter and StatusSource
// interfaces. HTTPChannel implements both against the daemon API. Timers go
// through a Scheduler so tests can drive retries and polling without waiting
// on the wall clock.
package uploadqueue
