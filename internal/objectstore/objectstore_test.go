package objectstore_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"novelverse/internal/metrics"
	"novelverse/internal/objectstore"
	"novelverse/internal/services"
)

type fakeGateway struct {
	objects map[string]string
	fail    error
}

func (f fakeGateway) Exists(_ context.Context, key string) (bool, error) {
	if f.fail != nil {
		return false, f.fail
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f fakeGateway) FetchRange(_ context.Context, key string, _ *objectstore.ByteRange) (io.ReadCloser, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, objectstore.NotFound(key)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f fakeGateway) FetchFull(ctx context.Context, key string) (io.ReadCloser, error) {
	return f.FetchRange(ctx, key, nil)
}

func TestByteRangeHeader(t *testing.T) {
	if got := objectstore.Head(65536).Header(); got != "bytes=0-65535" {
		t.Fatalf("unexpected head header %q", got)
	}
	if got := (objectstore.ByteRange{Start: 10, End: -1}).Header(); got != "bytes=10-" {
		t.Fatalf("unexpected open range header %q", got)
	}
	if err := (objectstore.ByteRange{Start: 5, End: 2}).Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected inverted range to be invalid, got %v", err)
	}
}

func TestNotFoundWrapsServiceMarker(t *testing.T) {
	err := objectstore.NotFound("audio/x")
	if !errors.Is(err, services.ErrNotFound) || !objectstore.IsNotFound(err) {
		t.Fatalf("expected not found markers, got %v", err)
	}
	storeErr := objectstore.StoreError("head", "audio/x", errors.New("access denied"))
	if objectstore.IsNotFound(storeErr) || !errors.Is(storeErr, services.ErrStore) {
		t.Fatalf("expected store marker only, got %v", storeErr)
	}
}

func TestInstrumentRecordsResults(t *testing.T) {
	m := metrics.New()
	g := objectstore.Instrument(fakeGateway{objects: map[string]string{"a": "x"}}, m)
	ctx := context.Background()

	if ok, _ := g.Exists(ctx, "a"); !ok {
		t.Fatal("expected hit")
	}
	if ok, _ := g.Exists(ctx, "b"); ok {
		t.Fatal("expected miss")
	}
	if _, err := g.FetchFull(ctx, "b"); !objectstore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if got := testutil.ToFloat64(m.StoreRequests.WithLabelValues("head", "hit")); got != 1 {
		t.Fatalf("expected 1 head hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreRequests.WithLabelValues("head", "miss")); got != 1 {
		t.Fatalf("expected 1 head miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreRequests.WithLabelValues("get", "miss")); got != 1 {
		t.Fatalf("expected 1 get miss, got %v", got)
	}
}
