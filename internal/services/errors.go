package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStore          = errors.New("object store error")
	ErrTranscode      = errors.New("transcode error")
	ErrUpstream       = errors.New("upstream fallback error")
	ErrNoProgress     = errors.New("no progress timeout")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrBusy           = errors.New("capacity exhausted")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrTimeout        = errors.New("timeout")

	// ErrClientGone marks a failed write to the listener's connection.
	// Only errors carrying it, or a cancelled request context, count as a
	// disconnect; resets on upstream connections are upstream failures.
	ErrClientGone = errors.New("client disconnected")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrUpstream
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps a pre-stream failure to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrNoProgress):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsDisconnect reports whether err records the listener going away: a
// failed write tagged with ErrClientGone or a cancelled context.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrClientGone) || errors.Is(err, context.Canceled)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
