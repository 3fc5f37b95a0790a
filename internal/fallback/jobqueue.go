package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"novelverse/internal/config"
	"novelverse/internal/frame"
	"novelverse/internal/jobs"
	"novelverse/internal/logging"
	"novelverse/internal/services"
)

// JobQueueClient submits generation jobs and polls their output.
type JobQueueClient struct {
	base
	now func() time.Time
}

// NewJobQueueClient targets the job API at baseURL.
func NewJobQueueClient(baseURL string, opts ...Option) *JobQueueClient {
	b := newBase(baseURL, opts)
	b.logger = logging.NewComponentLogger(b.logger, "fallback-jobqueue")
	return &JobQueueClient{base: b, now: time.Now}
}

type runInput struct {
	BookURL   string `json:"book_url"`
	ChapterNr string `json:"chapter_nr"`
	Preload   int    `json:"preload,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type runRequest struct {
	Input runInput `json:"input"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type streamRecord struct {
	Output json.RawMessage `json:"output"`
}

type streamResponse struct {
	Status string          `json:"status"`
	Stream []streamRecord  `json:"stream"`
	Error  json.RawMessage `json:"error"`
}

// Relay submits a job and relays its output until a terminal frame, a
// terminal job state, or cancellation of ctx. A job that stops making
// progress is cancelled and resubmitted while attempts remain.
func (c *JobQueueClient) Relay(ctx context.Context, req Request, emit func(frame.Frame) error) error {
	r := &relay{emit: emit}
	err := c.relay(ctx, req, r)
	c.metrics.RecordFallbackJob(config.FallbackModeJobQueue, resultLabel(r, err))
	return err
}

func (c *JobQueueClient) relay(ctx context.Context, req Request, r *relay) error {
	logger := logging.WithContext(ctx, c.logger)
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		r.startAttempt()
		err := c.runAttempt(ctx, req, attempt, r)
		if err == nil {
			return nil
		}
		if !errors.Is(err, services.ErrNoProgress) {
			return err
		}
		lastErr = err
		if attempt < c.maxAttempts {
			c.metrics.RecordFallbackRetry()
			logging.WarnWithContext(logger, "generation job stalled; resubmitting", "fallback_retry",
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", c.maxAttempts),
				logging.Duration("progress_timeout", c.progressTimeout),
				logging.String(logging.FieldErrorHint, "check the generation worker queue"),
				logging.String(logging.FieldImpact, "chapter generation restarts"),
			)
		}
	}
	return services.Wrap(services.ErrUpstream, "fallback", "job relay",
		fmt.Sprintf("no progress after %d attempts", c.maxAttempts), lastErr)
}

// jobAttempt is the state of one submitted job.
type jobAttempt struct {
	remoteID string
	ledgerID int64
	records  int
	status   jobs.Status
}

func (c *JobQueueClient) runAttempt(ctx context.Context, req Request, n int, r *relay) (err error) {
	logger := logging.WithContext(ctx, c.logger)
	remoteID, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	a := &jobAttempt{remoteID: remoteID, status: jobs.StatusQueued}
	a.ledgerID = c.recordJob(ctx, req, remoteID, n)
	logger.Info("generation job submitted",
		logging.String(logging.FieldJobID, remoteID),
		logging.Int("attempt", n),
	)

	defer func() {
		c.settle(ctx, a, r, err)
	}()

	lastProgress := c.now()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		progressed, finished, pollErr := c.pollOnce(ctx, a, r)
		switch {
		case finished:
			return pollErr
		case pollErr != nil && ctx.Err() != nil:
			return ctx.Err()
		case pollErr != nil:
			logger.Debug("job poll failed; retrying",
				logging.String(logging.FieldJobID, remoteID),
				logging.Error(pollErr),
			)
		case progressed:
			lastProgress = c.now()
		}

		if stalled := c.now().Sub(lastProgress); stalled >= c.progressTimeout {
			return services.Wrap(services.ErrNoProgress, "fallback", "poll job",
				fmt.Sprintf("job %s made no progress for %s", remoteID, stalled.Round(time.Millisecond)), nil)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce fetches the job stream once and relays new records. finished
// reports that the relay is over, successfully when err is nil.
func (c *JobQueueClient) pollOnce(ctx context.Context, a *jobAttempt, r *relay) (progressed, finished bool, err error) {
	resp, err := c.poll(ctx, a.remoteID)
	if err != nil {
		return false, false, err
	}

	records := resp.Stream
	if c.cumulative {
		if len(records) <= a.records {
			records = nil
		} else {
			records = records[a.records:]
		}
	}
	for _, rec := range records {
		a.records++
		progressed = true
		frames, err := parseOutput(rec.Output)
		if err != nil {
			return progressed, true, services.Wrap(services.ErrUpstream, "fallback", "parse job output", "", err)
		}
		for _, f := range frames {
			if err := r.forward(f); err != nil {
				return progressed, true, err
			}
			if r.done() {
				return progressed, true, nil
			}
		}
	}
	if progressed && a.ledgerID != 0 && c.ledger != nil {
		_ = c.ledger.RecordProgress(ctx, a.ledgerID, r.forwarded)
	}

	status, ok := jobs.ParseStatus(resp.Status)
	if !ok {
		return progressed, false, nil
	}
	if status != a.status {
		if status == jobs.StatusRunning && c.ledger != nil && a.ledgerID != 0 {
			_ = c.ledger.Transition(ctx, a.ledgerID, jobs.StatusRunning, "")
		}
		a.status = status
		progressed = true
	}

	switch status {
	case jobs.StatusCompleted:
		return progressed, true, r.finish(frame.Complete{})
	case jobs.StatusFailed:
		msg := rawMessage(resp.Error)
		if msg == "" {
			msg = "generation job failed"
		}
		return progressed, true, services.Wrap(services.ErrUpstream, "fallback", "poll job", msg, nil)
	case jobs.StatusCancelled:
		return progressed, true, services.Wrap(services.ErrUpstream, "fallback", "poll job", "generation job was cancelled by the worker", nil)
	}
	return progressed, false, nil
}

// settle records the attempt outcome. A failed attempt also cancels the
// remote job unless the worker already finished it; a successful one is left
// to finish on its own so the worker can store the chapter.
func (c *JobQueueClient) settle(ctx context.Context, a *jobAttempt, r *relay, err error) {
	final := jobs.StatusCompleted
	message := ""
	switch {
	case err == nil && r.terminal != nil && r.terminal.Kind() == frame.KindError:
		final = jobs.StatusFailed
		if e, ok := r.terminal.(frame.Error); ok {
			message = e.Message
		}
	case err == nil:
	case ctx.Err() != nil:
		final = jobs.StatusCancelled
		message = "client disconnected"
	case errors.Is(err, services.ErrNoProgress):
		final = jobs.StatusCancelled
		message = "no progress"
	default:
		final = jobs.StatusFailed
		message = err.Error()
	}

	if err != nil && !a.status.IsTerminal() {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
		if cancelErr := c.Cancel(cancelCtx, a.remoteID); cancelErr != nil {
			logging.WithContext(ctx, c.logger).Warn("cancel generation job failed",
				logging.String(logging.FieldJobID, a.remoteID),
				logging.Error(cancelErr),
				logging.String(logging.FieldEventType, "fallback_cancel_failed"),
				logging.String(logging.FieldErrorHint, "the worker may keep billing for this job"),
			)
		}
		cancel()
	}

	if c.ledger != nil && a.ledgerID != 0 {
		ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
		_ = c.ledger.RecordProgress(ledgerCtx, a.ledgerID, r.forwarded)
		_ = c.ledger.Transition(ledgerCtx, a.ledgerID, final, message)
		cancel()
	}
}

func (c *JobQueueClient) recordJob(ctx context.Context, req Request, remoteID string, n int) int64 {
	if c.ledger == nil {
		return 0
	}
	job, err := c.ledger.Create(ctx, jobs.Job{
		RemoteID:  remoteID,
		Mode:      config.FallbackModeJobQueue,
		CacheKey:  req.CacheKey,
		BookURL:   req.BookURL,
		Chapter:   req.Chapter,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Attempt:   n,
	})
	if err != nil {
		logging.WithContext(ctx, c.logger).Warn("record generation job failed",
			logging.String(logging.FieldJobID, remoteID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ledger_write_failed"),
		)
		return 0
	}
	return job.ID
}

func (c *JobQueueClient) submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(runRequest{Input: runInput{
		BookURL:   req.BookURL,
		ChapterNr: req.Chapter,
		Preload:   req.Preload,
		UserID:    req.UserID,
	}})
	if err != nil {
		return "", fmt.Errorf("encode job request: %w", err)
	}
	var out runResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/run", body, &out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrUpstream, "fallback", "submit job", "", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", services.Wrap(services.ErrUpstream, "fallback", "submit job", "worker returned no job id", nil)
	}
	return out.ID, nil
}

func (c *JobQueueClient) poll(ctx context.Context, remoteID string) (*streamResponse, error) {
	var out streamResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/stream/"+url.PathEscape(remoteID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel asks the worker to stop remoteID.
func (c *JobQueueClient) Cancel(ctx context.Context, remoteID string) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/cancel/"+url.PathEscape(remoteID), nil, nil)
}

func (c *JobQueueClient) do(ctx context.Context, method, target string, body []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, target, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpStatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// parseOutput turns one job output record into frames. The record may hold a
// JSON string carrying several newline-separated frames or a single frame
// object. Started markers yield no frame.
func parseOutput(raw json.RawMessage) ([]frame.Frame, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}
	if payload[0] == '"' {
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", frame.ErrMalformedFrame, err)
		}
		payload = []byte(text)
	}

	var frames []frame.Frame
	for _, line := range bytes.Split(payload, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := frame.ParseOutput(line)
		if err != nil {
			return nil, err
		}
		if rec.Frame != nil {
			frames = append(frames, rec.Frame)
		}
	}
	return frames, nil
}

func rawMessage(raw json.RawMessage) string {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return string(payload)
}
