// Package daemon coordinates the long-running novelverse process.
//
// It wires configuration, the object store, the transcoder pool, the fallback
// source, and the job ledger into a single lifecycle with flock-based locking
// to prevent multiple instances. On start it cancels generation jobs a
// crashed run left behind, then serves the HTTP surface: /stream (SSE),
// /ws/stream (WebSocket), /healthz, /metrics, and the /api status and job
// routes behind bearer authentication.
//
// Keep orchestration logic here: session behaviour lives in the stream
// package while the daemon focuses on startup, shutdown, and routing.
package daemon
