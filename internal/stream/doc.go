// Package stream delivers one chapter to one client.
//
// A Session resolves the chapter's cache key, probes the object store, and
// either transcodes the cached asset through ffmpeg (cache hit) or relays the
// generation worker's output (cache miss). Either way the client receives the
// same ordered frame sequence: audio-info, chunks, and exactly one terminal
// frame. Handler and WSHandler expose sessions over server-sent events and
// WebSocket respectively.
package stream
