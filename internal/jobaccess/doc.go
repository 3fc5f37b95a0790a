// Package jobaccess gives CLI commands one view of the generation-job ledger,
// read through the daemon API when it is running and straight from SQLite
// when it is not.
package jobaccess
