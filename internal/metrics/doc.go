// Package metrics exposes Prometheus counters, gauges, and histograms for
// stream sessions, object store calls, transcodes, and fallback jobs.
package metrics
