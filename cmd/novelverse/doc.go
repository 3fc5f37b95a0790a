// Package main hosts the novelverse CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, reads its status
// and job ledger over the HTTP API, derives cache keys, and downloads a
// chapter through the same frame stream a player consumes. Configuration is
// resolved once per invocation and shared by every subcommand.
package main
