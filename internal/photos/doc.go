// Package photos ingests handover photos and runs the jobs that process them.
//
// Service.Upload validates and stores each original, records a processing
// photo row, and enqueues a generate-derivatives job. The job handlers live
// here too: DerivativesHandler renders and hashes every rendition and
// publishes the photo manifest together with the completed status, and
// ManifestHandler aggregates published photo manifests into a protocol
// manifest.
package photos
