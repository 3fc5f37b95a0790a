// Package jobs persists the generation jobs submitted to the fallback worker
// in SQLite.
//
// The ledger records each remote job id with its cache key, attempt number,
// relayed frame count, and lifecycle status so that the daemon can report
// in-flight work and cancel jobs orphaned by a crash. The database is
// transient bookkeeping, not an archive: schema changes bump schemaVersion
// and users delete the file to adopt them.
package jobs
