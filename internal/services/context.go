package services

import "context"

// annotation identifies one request-scoped value carried on a context.
type annotation int

const (
	annSession annotation = iota
	annStage
	annCacheKey
	annRequest
	annUser
)

// Annotations is a snapshot of every request-scoped value on a context.
// Empty fields were never set.
type Annotations struct {
	SessionID string
	Stage     string
	CacheKey  string
	RequestID string
	UserID    string
}

// AnnotationsFrom collects the values annotated on ctx.
func AnnotationsFrom(ctx context.Context) Annotations {
	if ctx == nil {
		return Annotations{}
	}
	return Annotations{
		SessionID: lookup(ctx, annSession),
		Stage:     lookup(ctx, annStage),
		CacheKey:  lookup(ctx, annCacheKey),
		RequestID: lookup(ctx, annRequest),
		UserID:    lookup(ctx, annUser),
	}
}

func annotate(ctx context.Context, a annotation, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, a, value)
}

func lookup(ctx context.Context, a annotation) string {
	v, _ := ctx.Value(a).(string)
	return v
}

func present(ctx context.Context, a annotation) (string, bool) {
	v := lookup(ctx, a)
	return v, v != ""
}

// WithSessionID tags ctx with the stream session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return annotate(ctx, annSession, id)
}

// SessionIDFromContext returns the stream session id.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	return present(ctx, annSession)
}

// WithStage tags ctx with the session stage. A blank stage leaves ctx as is.
func WithStage(ctx context.Context, stage string) context.Context {
	return annotate(ctx, annStage, stage)
}

// StageFromContext returns the session stage.
func StageFromContext(ctx context.Context) (string, bool) {
	return present(ctx, annStage)
}

// WithCacheKey tags ctx with the object store key being served.
func WithCacheKey(ctx context.Context, key string) context.Context {
	return annotate(ctx, annCacheKey, key)
}

// CacheKeyFromContext returns the object store key.
func CacheKeyFromContext(ctx context.Context) (string, bool) {
	return present(ctx, annCacheKey)
}

// WithRequestID tags ctx with the HTTP correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return annotate(ctx, annRequest, id)
}

// RequestIDFromContext returns the HTTP correlation id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return present(ctx, annRequest)
}

// WithUserID tags ctx with the authenticated listener.
func WithUserID(ctx context.Context, id string) context.Context {
	return annotate(ctx, annUser, id)
}

// UserIDFromContext returns the authenticated listener.
func UserIDFromContext(ctx context.Context) (string, bool) {
	return present(ctx, annUser)
}
