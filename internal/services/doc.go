// Package services defines shared utilities consumed by the stream pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, cache keys, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (not found, store, transcode, upstream, no progress, malformed frame)
//     so handlers can pick an HTTP status or a terminal error frame.
//
// Use these helpers when wiring new pipeline stages so operational behaviour
// (error handling, observability, disconnect detection) stays uniform.
package services
