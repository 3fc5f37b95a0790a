// Package api defines the JSON payloads served by the daemon's /api routes
// and a small HTTP client that reads them.
//
// # Key Types
//
// DaemonStatus: running state, uptime, transcode pool usage, fallback mode,
// dependency checks, and ledger counts.
//
// Job/JobListResponse: transport view of generation jobs recorded in the
// ledger.
//
// # Converters
//
// FromJob: jobs.Job -> Job with RFC3339 timestamps.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Ledger
// statuses are exposed as lowercase strings.
package api
