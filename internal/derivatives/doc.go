// Package derivatives turns one source photo into the fixed set of renditions
// the handover UI and PDF export consume: a WebP thumbnail, a gallery JPEG,
// and a smaller JPEG for embedding in protocol PDFs.
//
// Generation is all-or-nothing. Either every rendition in the table is
// returned or none is, so callers never persist a partial set.
package derivatives
