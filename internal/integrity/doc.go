// Package integrity computes SHA-256 content digests and builds the immutable
// manifests that record which renditions were produced for a photo.
//
// Digests are 64-character lowercase hex strings. A Manifest lists its files
// in order with their sizes and carries the sum of those sizes so a reader can
// detect truncation. Manifests are never edited; Supersede returns a new one.
package integrity
