// Package storage writes photo originals and renditions to the local
// filesystem or an S3 compatible bucket behind a single Backend interface.
package storage
