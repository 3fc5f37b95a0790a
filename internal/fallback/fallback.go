package fallback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"novelverse/internal/config"
	"novelverse/internal/frame"
	"novelverse/internal/jobs"
	"novelverse/internal/logging"
	"novelverse/internal/metrics"
	"novelverse/internal/services"
)

const (
	defaultPollInterval    = 800 * time.Millisecond
	defaultProgressTimeout = 20 * time.Second
	defaultMaxAttempts     = 2
	defaultRequestTimeout  = 30 * time.Second
	maxErrorBody           = 4 << 10
)

// Request identifies the chapter to generate.
type Request struct {
	BookURL   string
	Chapter   string
	Preload   int
	UserID    string
	CacheKey  string
	SessionID string
}

// Source produces frames for a chapter that is not cached. Relay returns nil
// once a terminal frame has been emitted. Errors returned before any frame was
// emitted leave the caller free to answer with an HTTP status.
type Source interface {
	Relay(ctx context.Context, req Request, emit func(frame.Frame) error) error
}

// Ledger records submitted jobs. *jobs.Store satisfies it.
type Ledger interface {
	Create(ctx context.Context, job jobs.Job) (*jobs.Job, error)
	Transition(ctx context.Context, id int64, status jobs.Status, message string) error
	RecordProgress(ctx context.Context, id int64, frames int) error
}

// Disabled is the Source used when no worker is configured. Every miss is
// reported as not found.
type Disabled struct{}

func (Disabled) Relay(context.Context, Request, func(frame.Frame) error) error {
	return services.Wrap(services.ErrNotFound, "fallback", "relay", "chapter is not cached and no generation worker is configured", nil)
}

// Option customizes a client.
type Option func(*base)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(b *base) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records job outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *base) { b.metrics = m }
}

// WithLedger records submitted jobs in l.
func WithLedger(l Ledger) Option {
	return func(b *base) { b.ledger = l }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(b *base) { b.apiKey = strings.TrimSpace(key) }
}

// WithTiming overrides the poll cadence, the no-progress window and the
// attempt budget. Zero values keep the defaults.
func WithTiming(pollInterval, progressTimeout time.Duration, maxAttempts int) Option {
	return func(b *base) {
		if pollInterval > 0 {
			b.pollInterval = pollInterval
		}
		if progressTimeout > 0 {
			b.progressTimeout = progressTimeout
		}
		if maxAttempts > 0 {
			b.maxAttempts = maxAttempts
		}
	}
}

// WithRequestTimeout bounds control-plane calls (submit, poll, cancel).
func WithRequestTimeout(timeout time.Duration) Option {
	return func(b *base) {
		if timeout > 0 {
			b.requestTimeout = timeout
		}
	}
}

// WithCumulativeStream tells the job-queue client that each poll returns
// every output produced so far rather than only the new ones.
func WithCumulativeStream(cumulative bool) Option {
	return func(b *base) { b.cumulative = cumulative }
}

// base carries the settings shared by both clients.
type base struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	logger          *slog.Logger
	metrics         *metrics.Metrics
	ledger          Ledger
	pollInterval    time.Duration
	progressTimeout time.Duration
	maxAttempts     int
	requestTimeout  time.Duration
	cumulative      bool
}

func newBase(baseURL string, opts []Option) base {
	b := base{
		baseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient:      &http.Client{},
		pollInterval:    defaultPollInterval,
		progressTimeout: defaultProgressTimeout,
		maxAttempts:     defaultMaxAttempts,
		requestTimeout:  defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.logger == nil {
		b.logger = logging.NewNop()
	}
	return b
}

func (b *base) authorize(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}

// NewFromConfig builds the Source selected by cfg.Fallback.Mode.
func NewFromConfig(cfg *config.Config, opts ...Option) (Source, error) {
	fb := cfg.Fallback
	all := append([]Option{
		WithAPIKey(fb.APIKey),
		WithTiming(fb.PollInterval(), fb.ProgressTimeoutDuration(), fb.MaxRetries),
		WithRequestTimeout(fb.RequestTimeoutDuration()),
		WithCumulativeStream(fb.CumulativeStream),
	}, opts...)

	switch fb.Mode {
	case config.FallbackModeDisabled:
		return Disabled{}, nil
	case config.FallbackModeProxy:
		return NewProxyClient(fb.BaseURL, all...), nil
	case config.FallbackModeJobQueue, "":
		return NewJobQueueClient(fb.BaseURL, all...), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "fallback", "select mode", fmt.Sprintf("unknown mode %q", fb.Mode), nil)
	}
}

// relay forwards frames across attempts. A resubmitted job replays the
// frames of the first attempt, so frames already forwarded are dropped by
// position.
type relay struct {
	emit      func(frame.Frame) error
	forwarded int
	seen      int
	terminal  frame.Frame
}

func (r *relay) startAttempt() { r.seen = 0 }

// forward emits f unless it was already forwarded by an earlier attempt.
func (r *relay) forward(f frame.Frame) error {
	r.seen++
	if r.seen <= r.forwarded {
		return nil
	}
	if err := r.emit(f); err != nil {
		return err
	}
	r.forwarded++
	if frame.IsTerminal(f) {
		r.terminal = f
	}
	return nil
}

// finish emits a synthesised terminal frame unconditionally.
func (r *relay) finish(f frame.Frame) error {
	if err := r.emit(f); err != nil {
		return err
	}
	r.forwarded++
	r.terminal = f
	return nil
}

func (r *relay) done() bool { return r.terminal != nil }

// resultLabel classifies a relay outcome for metrics.
func resultLabel(r *relay, err error) string {
	switch {
	case err != nil && services.IsDisconnect(err):
		return "cancelled"
	case err != nil:
		return "failed"
	case r.terminal != nil && r.terminal.Kind() == frame.KindError:
		return "worker_error"
	default:
		return "completed"
	}
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}

// httpStatusError reports a non-2xx worker response.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker responded with http %d", e.StatusCode)
	}
	return fmt.Sprintf("worker responded with http %d: %s", e.StatusCode, e.Body)
}
