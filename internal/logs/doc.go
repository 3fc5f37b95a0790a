// Package logs reads the daemon's current log file for the CLI.
//
// Last returns the trailing lines of a file together with the byte offset
// just past them; Follow resumes from such an offset and streams lines as
// the daemon appends them, reopening the path when the log pointer is
// rotated to a new run.
package logs
