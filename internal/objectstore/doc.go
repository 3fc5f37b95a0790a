// Package objectstore defines the read-only gateway to cached chapter audio.
//
// Backends live in subpackages: s3store talks to S3 or an S3-compatible
// service, fsstore serves a local directory. Both report a missing key with
// ErrNotFound and every other failure with the services.ErrStore marker, so
// callers can tell a cache miss from an outage.
package objectstore
