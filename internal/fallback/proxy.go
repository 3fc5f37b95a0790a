package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"novelverse/internal/config"
	"novelverse/internal/frame"
	"novelverse/internal/logging"
	"novelverse/internal/services"
)

var errStalled = errors.New("proxy stream stalled")

// ProxyClient relays the worker's live event stream.
type ProxyClient struct {
	base
}

// NewProxyClient targets the worker at baseURL.
func NewProxyClient(baseURL string, opts ...Option) *ProxyClient {
	b := newBase(baseURL, opts)
	b.logger = logging.NewComponentLogger(b.logger, "fallback-proxy")
	return &ProxyClient{base: b}
}

// Relay streams GET {base}/stream and forwards every frame. A stream that
// goes quiet for the progress window is reopened within the attempt budget.
func (p *ProxyClient) Relay(ctx context.Context, req Request, emit func(frame.Frame) error) error {
	r := &relay{emit: emit}
	err := p.relay(ctx, req, r)
	p.metrics.RecordFallbackJob(config.FallbackModeProxy, resultLabel(r, err))
	return err
}

func (p *ProxyClient) relay(ctx context.Context, req Request, r *relay) error {
	logger := logging.WithContext(ctx, p.logger)
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		r.startAttempt()
		err := p.streamOnce(ctx, req, r)
		if err == nil {
			return nil
		}
		if !errors.Is(err, services.ErrNoProgress) {
			return err
		}
		if attempt == p.maxAttempts {
			return services.Wrap(services.ErrUpstream, "fallback", "proxy relay",
				fmt.Sprintf("no progress after %d attempts", attempt), err)
		}
		p.metrics.RecordFallbackRetry()
		logging.WarnWithContext(logger, "proxy stream stalled; reconnecting", "fallback_retry",
			logging.Int("attempt", attempt),
			logging.Duration("progress_timeout", p.progressTimeout),
			logging.String(logging.FieldErrorHint, "check the generation worker"),
			logging.String(logging.FieldImpact, "chapter generation restarts from the beginning"),
		)
	}
	return nil
}

func (p *ProxyClient) streamOnce(ctx context.Context, req Request, r *relay) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(p.progressTimeout, func() { cancel(errStalled) })
	defer watchdog.Stop()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, p.streamURL(req), nil)
	if err != nil {
		return services.Wrap(services.ErrUpstream, "fallback", "build proxy request", "", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return p.classify(ctx, attemptCtx, "open proxy stream", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return services.Wrap(services.ErrUpstream, "fallback", "open proxy stream", "",
			&httpStatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)})
	}

	dec := frame.NewDecoder(resp.Body)
	for {
		rec, err := dec.NextRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return services.Wrap(services.ErrUpstream, "fallback", "read proxy stream", "worker closed the stream without a terminal frame", nil)
			}
			if errors.Is(err, services.ErrMalformedFrame) {
				return services.Wrap(services.ErrUpstream, "fallback", "read proxy stream", "", err)
			}
			return p.classify(ctx, attemptCtx, "read proxy stream", err)
		}
		watchdog.Reset(p.progressTimeout)
		if rec.Frame == nil {
			continue
		}
		if err := r.forward(rec.Frame); err != nil {
			return err
		}
		if r.done() {
			return nil
		}
	}
}

// classify maps a transport error to caller cancellation, a stall, or an
// upstream failure.
func (p *ProxyClient) classify(ctx, attemptCtx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(context.Cause(attemptCtx), errStalled) {
		return services.Wrap(services.ErrNoProgress, "fallback", op,
			fmt.Sprintf("no data for %s", p.progressTimeout), errStalled)
	}
	return services.Wrap(services.ErrUpstream, "fallback", op, "", err)
}

func (p *ProxyClient) streamURL(req Request) string {
	q := url.Values{}
	q.Set("book_url", req.BookURL)
	q.Set("chapter_nr", req.Chapter)
	if req.Preload > 0 {
		q.Set("preload", strconv.Itoa(req.Preload))
	}
	return p.baseURL + "/stream?" + q.Encode()
}
