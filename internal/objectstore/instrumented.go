package objectstore

import (
	"context"
	"io"
	"time"

	"novelverse/internal/metrics"
)

type instrumented struct {
	next    Gateway
	metrics *metrics.Metrics
}

// Instrument records per-call results and latency for g.
func Instrument(g Gateway, m *metrics.Metrics) Gateway {
	if m == nil {
		return g
	}
	return &instrumented{next: g, metrics: m}
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, key)
	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "miss"
	}
	i.metrics.RecordStoreRequest("head", result, time.Since(start).Seconds())
	return ok, err
}

func (i *instrumented) FetchRange(ctx context.Context, key string, r *ByteRange) (io.ReadCloser, error) {
	start := time.Now()
	body, err := i.next.FetchRange(ctx, key, r)
	i.metrics.RecordStoreRequest("get_range", resultOf(err), time.Since(start).Seconds())
	return body, err
}

func (i *instrumented) FetchFull(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	body, err := i.next.FetchFull(ctx, key)
	i.metrics.RecordStoreRequest("get", resultOf(err), time.Since(start).Seconds())
	return body, err
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "hit"
	case IsNotFound(err):
		return "miss"
	default:
		return "error"
	}
}
