// Package playback turns a bursty sequence of stream frames into steady
// playback.
//
// An Engine owns one chapter: it queues incoming chunks, commits them to a
// MediaBuffer one at a time, and paces requests for more data off the
// distance between the buffered end and the playback position. All engine
// state lives on a single event-loop goroutine started by Run; the exported
// methods post commands to that loop and never block on media I/O.
//
// A Player navigates between chapters. Opening a chapter tears down the
// previous engine and its stream and builds a fresh one, so no audio carries
// over. When a stream breaks before its terminal frame the Player reopens the
// chapter, up to a fixed budget, and drops the bytes it already delivered.
//
// TimelineBuffer is an in-memory MediaBuffer that maps bytes to seconds at a
// constant bitrate; WriterBuffer commits to an io.Writer and is used to
// download chapters.
package playback
