package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"novelverse/internal/services"
)

// ErrNotFound reports that the key does not exist. It wraps services.ErrNotFound.
var ErrNotFound = fmt.Errorf("object store: %w", services.ErrNotFound)

// ByteRange is an inclusive byte interval. End < 0 means "to the end".
type ByteRange struct {
	Start int64
	End   int64
}

// Head returns the range covering the first n bytes.
func Head(n int64) *ByteRange {
	return &ByteRange{Start: 0, End: n - 1}
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Length returns the number of bytes covered, or -1 when open-ended.
func (r ByteRange) Length() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

// Validate rejects inverted or negative ranges.
func (r ByteRange) Validate() error {
	if r.Start < 0 || (r.End >= 0 && r.End < r.Start) {
		return services.Wrap(services.ErrValidation, "object_store", "range", r.Header(), nil)
	}
	return nil
}

// Gateway reads immutable objects by key.
type Gateway interface {
	// Exists checks for the key without transferring the body. A missing key is
	// (false, nil); any other failure is (false, err).
	Exists(ctx context.Context, key string) (bool, error)
	// FetchRange streams a byte range of the object. A nil range reads everything.
	FetchRange(ctx context.Context, key string, r *ByteRange) (io.ReadCloser, error)
	// FetchFull streams the whole object.
	FetchFull(ctx context.Context, key string) (io.ReadCloser, error)
}

// NotFound builds the not-found error for key.
func NotFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// StoreError wraps a backend failure with the store marker.
func StoreError(op, key string, err error) error {
	return services.Wrap(services.ErrStore, "object_store", op, key, err)
}

// IsNotFound reports whether err is a not-found miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidateKey rejects empty keys and keys with a leading slash.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return services.Wrap(services.ErrValidation, "object_store", "key", fmt.Sprintf("invalid key %q", key), nil)
	}
	return nil
}
