package logging

import (
	"context"
	"log/slog"

	"novelverse/internal/services"
)

const (
	// FieldComponent names the subsystem that logged.
	FieldComponent = "component"
	// FieldSessionID identifies one stream session.
	FieldSessionID = "session_id"
	// FieldStage is the session stage: resolve, cache_hit or cache_miss.
	FieldStage = "stage"
	// FieldCacheKey is the object store key a session resolves to.
	FieldCacheKey = "cache_key"
	// FieldJobID identifies a generation job submitted to the fallback worker.
	FieldJobID = "job_id"
	// FieldCorrelationID carries the HTTP request id.
	FieldCorrelationID = "correlation_id"
	FieldUserID        = "user_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields returns the request-scoped attributes annotated on ctx,
// in the order the console handler prints them.
func ContextFields(ctx context.Context) []slog.Attr {
	a := services.AnnotationsFrom(ctx)
	fields := make([]slog.Attr, 0, 5)
	for _, f := range []struct{ key, value string }{
		{FieldSessionID, a.SessionID},
		{FieldStage, a.Stage},
		{FieldCacheKey, a.CacheKey},
		{FieldCorrelationID, a.RequestID},
		{FieldUserID, a.UserID},
	} {
		if f.value != "" {
			fields = append(fields, slog.String(f.key, f.value))
		}
	}
	return fields
}

// WithContext returns logger with the annotations of ctx attached.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
