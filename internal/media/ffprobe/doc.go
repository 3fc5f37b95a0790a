// Package ffprobe wraps the ffprobe CLI to inspect audio piped on stdin.
//
// It returns stream and container metadata, including tags, for code that
// needs to read cached chapter headers without writing them to disk.
package ffprobe
