// Package fallback relays audio generated by the external worker when a
// chapter is not cached yet.
//
// Two Sources exist. ProxyClient opens the worker's event stream and relays
// frames as they arrive. JobQueueClient submits an asynchronous job, polls
// its output, and relays each new record; a no-progress watchdog cancels and
// resubmits a stalled job within a bounded retry budget. Both translate
// worker output into the frame vocabulary of package frame and stop the
// worker as soon as the caller's context is cancelled.
package fallback
