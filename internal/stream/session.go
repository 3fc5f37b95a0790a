package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"novelverse/internal/cachekey"
	"novelverse/internal/fallback"
	"novelverse/internal/frame"
	"novelverse/internal/logging"
	"novelverse/internal/media/audiotags"
	"novelverse/internal/metrics"
	"novelverse/internal/objectstore"
	"novelverse/internal/services"
	"novelverse/internal/transcode"
)

// State is a session lifecycle state.
type State int

const (
	StateResolving State = iota
	StateCacheHit
	StateCacheMiss
	StateStreaming
	StateCompleted
	StateFailed
	StateClientDisconnected
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateCacheHit:
		return "cache_hit"
	case StateCacheMiss:
		return "cache_miss"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateClientDisconnected:
		return "client_disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateClientDisconnected
}

// Sink receives the frames of one session.
type Sink interface {
	// Send writes f to the client. The first Send commits the response.
	Send(f frame.Frame) error
	// Committed reports whether anything has been written to the client.
	Committed() bool
}

// Transcoder starts a streaming transcode of input.
type Transcoder interface {
	Start(ctx context.Context, input io.Reader, profile transcode.Profile) (io.ReadCloser, error)
}

// TagReader extracts chapter metadata from the head of a cached asset.
type TagReader interface {
	Extract(ctx context.Context, head []byte) (audiotags.Tags, error)
}

// Request identifies the chapter a client asked for.
type Request struct {
	BookURL string
	Chapter string
	Preload int
	UserID  string
}

// ErrInvalidChapter rejects a chapter_nr that is not a non-negative integer.
var ErrInvalidChapter = errors.New("chapter_nr must be a non-negative integer")

// ParseChapter reads a chapter number.
func ParseChapter(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, ErrInvalidChapter
	}
	return n, nil
}

// Validate rejects requests missing the book or with a malformed chapter.
func (r Request) Validate() error {
	if strings.TrimSpace(r.BookURL) == "" || strings.TrimSpace(r.Chapter) == "" {
		return services.Wrap(services.ErrValidation, "request", "validate", "Missing book_url or chapter_nr", nil)
	}
	if _, err := ParseChapter(r.Chapter); err != nil {
		return services.Wrap(services.ErrValidation, "request", "validate", "", err)
	}
	return nil
}

// Options configures a Service.
type Options struct {
	Store      objectstore.Gateway
	Transcoder Transcoder
	Tags       TagReader
	Fallback   fallback.Source
	Profile    transcode.Profile
	ChunkBytes int
	HeadBytes  int64
	Extension  string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Service holds what sessions share: the store, the transcoder pool, the
// fallback source, and metrics. It is safe for concurrent use.
type Service struct {
	store      objectstore.Gateway
	transcoder Transcoder
	tags       TagReader
	fallback   fallback.Source
	profile    transcode.Profile
	framer     frame.Framer
	headBytes  int64
	extension  string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewService validates opts and returns a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("stream service: store is required")
	}
	if opts.Transcoder == nil {
		return nil, errors.New("stream service: transcoder is required")
	}
	if opts.Tags == nil {
		opts.Tags = audiotags.Extractor{}
	}
	if opts.Fallback == nil {
		opts.Fallback = fallback.Disabled{}
	}
	if opts.HeadBytes <= 0 {
		opts.HeadBytes = 64 * 1024
	}
	if strings.TrimSpace(opts.Extension) == "" {
		opts.Extension = cachekey.DefaultExtension
	}
	return &Service{
		store:      opts.Store,
		transcoder: opts.Transcoder,
		tags:       opts.Tags,
		fallback:   opts.Fallback,
		profile:    opts.Profile,
		framer:     frame.Framer{ChunkBytes: opts.ChunkBytes},
		headBytes:  opts.HeadBytes,
		extension:  opts.Extension,
		logger:     logging.NewComponentLogger(opts.Logger, "stream"),
		metrics:    opts.Metrics,
	}, nil
}

// NewSession creates a fresh session for req.
func (s *Service) NewSession(req Request) *Session {
	return &Session{
		id:  uuid.NewString(),
		req: req,
		svc: s,
	}
}

// Session is the state machine for one client request. Sessions are not
// reused.
type Session struct {
	id  string
	req Request
	svc *Service

	mu      sync.Mutex
	state   State
	key     string
	frames  int
	last    frame.Frame
	started time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CacheKey returns the derived key, empty until resolved.
func (s *Session) CacheKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Frames returns the number of frames sent so far.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Run drives the session to a terminal state. It returns nil when the chapter
// was delivered or the client went away. On failure it sends an error frame
// if the sink is committed and returns the error either way, so a caller
// holding an uncommitted sink can answer with an HTTP status.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	s.started = time.Now()
	ctx = services.WithUserID(services.WithSessionID(ctx, s.id), s.req.UserID)
	logger := logging.WithContext(ctx, s.svc.logger)

	err := s.run(ctx, sink)
	outcome := s.finish(ctx, sink, err)

	duration := time.Since(s.started)
	switch outcome {
	case StateCompleted:
		logger.Info("session completed",
			logging.String(logging.FieldCacheKey, s.CacheKey()),
			logging.Int("frames", s.Frames()),
			logging.Duration("duration", duration),
		)
	case StateClientDisconnected:
		logger.Info("client disconnected",
			logging.String(logging.FieldCacheKey, s.CacheKey()),
			logging.Int("frames", s.Frames()),
			logging.Duration("duration", duration),
		)
	}
	if outcome == StateClientDisconnected {
		return nil
	}
	return err
}

func (s *Session) run(ctx context.Context, sink Sink) error {
	s.setState(StateResolving)
	if err := s.req.Validate(); err != nil {
		return err
	}
	key, err := cachekey.Derive(s.req.BookURL, s.req.Chapter, s.svc.extension)
	if err != nil {
		return services.Wrap(services.ErrValidation, "resolve", "derive cache key", "", err)
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	ctx = services.WithCacheKey(ctx, key)

	exists, err := s.svc.store.Exists(services.WithStage(ctx, "resolve"), key)
	if err != nil {
		return err
	}
	if exists {
		s.setState(StateCacheHit)
		s.svc.metrics.RecordSessionStarted("hit")
		return s.runHit(services.WithStage(ctx, "cache_hit"), key, sink)
	}
	s.setState(StateCacheMiss)
	s.svc.metrics.RecordSessionStarted("miss")
	return s.runMiss(services.WithStage(ctx, "cache_miss"), key, sink)
}

func (s *Session) runHit(ctx context.Context, key string, sink Sink) error {
	logger := logging.WithContext(ctx, s.svc.logger)
	info := s.readInfo(ctx, key, logger)

	body, err := s.svc.store.FetchFull(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := s.svc.transcoder.Start(ctx, storeBody{body: body, key: key}, s.svc.profile)
	if err != nil {
		return err
	}
	defer out.Close()

	s.setState(StateStreaming)
	if err := s.send(sink, info); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = out.Close() })
	defer stop()

	frames := make(chan frame.Frame, 2)
	g.Go(func() error {
		defer close(frames)
		return s.svc.framer.Run(gctx, out, func(f frame.Frame) error {
			select {
			case frames <- f:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	g.Go(func() error {
		for f := range frames {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.send(sink, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// storeBody tags read failures of a cached object with ErrStore so a reset
// S3 connection surfaces as a storage failure.
type storeBody struct {
	body io.Reader
	key  string
}

func (b storeBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF {
		err = services.Wrap(services.ErrStore, "cache_hit", "read object", b.key, err)
	}
	return n, err
}

// maxHeadBytes bounds how far readInfo grows the head range when a tag
// block runs past it.
const maxHeadBytes = 1 << 20

// readInfo fetches the head of the asset and extracts its tags. A tag block
// cut off by the range end is retried with a longer head. Failures are
// logged and yield an empty audio-info frame.
func (s *Session) readInfo(ctx context.Context, key string, logger *slog.Logger) frame.AudioInfo {
	size := s.svc.headBytes
	for {
		data, err := s.readHead(ctx, key, size)
		if err != nil {
			logging.WarnWithContext(logger, "read asset head failed", "metadata_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "audio-info sent without duration or transcript"),
			)
			return frame.AudioInfo{}
		}
		tags, err := s.svc.tags.Extract(ctx, data)
		if errors.Is(err, audiotags.ErrHeadTruncated) && int64(len(data)) == size && size < maxHeadBytes {
			size = min(size*4, maxHeadBytes)
			logger.Debug("tag block exceeds head range", logging.Int("head_bytes", len(data)), logging.Int64("next_head_bytes", size))
			continue
		}
		if err != nil {
			logging.WarnWithContext(logger, "extract audio tags failed", "metadata_unavailable",
				logging.Error(err),
				logging.Int("head_bytes", len(data)),
				logging.String(logging.FieldImpact, "audio-info sent without duration or transcript"),
			)
			return frame.AudioInfo{}
		}
		return tags.AudioInfo()
	}
}

func (s *Session) readHead(ctx context.Context, key string, size int64) ([]byte, error) {
	head, err := s.svc.store.FetchRange(ctx, key, objectstore.Head(size))
	if err != nil {
		return nil, err
	}
	defer head.Close()
	return io.ReadAll(io.LimitReader(head, size))
}

func (s *Session) runMiss(ctx context.Context, key string, sink Sink) error {
	req := fallback.Request{
		BookURL:   s.req.BookURL,
		Chapter:   s.req.Chapter,
		Preload:   s.req.Preload,
		UserID:    s.req.UserID,
		CacheKey:  key,
		SessionID: s.id,
	}
	err := s.svc.fallback.Relay(ctx, req, func(f frame.Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.State() != StateStreaming {
			s.setState(StateStreaming)
		}
		return s.send(sink, f)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if e, ok := last.(frame.Error); ok {
		return services.Wrap(services.ErrUpstream, "cache_miss", "relay", "worker reported an error", errors.New(e.Message))
	}
	return nil
}

func (s *Session) send(sink Sink, f frame.Frame) error {
	if err := sink.Send(f); err != nil {
		return fmt.Errorf("send %s frame: %w: %w", f.Kind(), services.ErrClientGone, err)
	}
	audio := 0
	if c, ok := f.(frame.Chunk); ok {
		audio = len(c.Audio)
	}
	s.mu.Lock()
	s.frames++
	s.last = f
	s.mu.Unlock()
	s.svc.metrics.RecordFrame(string(f.Kind()), audio)
	return nil
}

// finish settles the terminal state, reporting failures to the client when
// possible.
func (s *Session) finish(ctx context.Context, sink Sink, err error) State {
	outcome := StateCompleted
	switch {
	case err == nil:
	case ctx.Err() != nil || errors.Is(err, services.ErrClientGone):
		outcome = StateClientDisconnected
	default:
		outcome = StateFailed
	}

	s.mu.Lock()
	prev := s.state
	s.state = outcome
	last := s.last
	s.mu.Unlock()

	if prev != StateResolving {
		s.svc.metrics.RecordSessionFinished(outcome.String(), time.Since(s.started).Seconds())
	}

	if outcome != StateFailed {
		return outcome
	}

	logging.ErrorWithContext(logging.WithContext(ctx, s.svc.logger), "session failed", "stream_failed",
		logging.String(logging.FieldCacheKey, s.CacheKey()),
		logging.String(logging.FieldStage, prev.String()),
		logging.Int("frames", s.Frames()),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hintFor(err)),
	)

	if sink.Committed() && !isErrorFrame(last) {
		if sendErr := s.send(sink, frame.Error{Message: ClientMessage(err)}); sendErr != nil {
			logging.WithContext(ctx, s.svc.logger).Debug("error frame not delivered", logging.Error(sendErr))
		}
	}
	return outcome
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func isErrorFrame(f frame.Frame) bool {
	_, ok := f.(frame.Error)
	return ok
}

// ClientMessage returns the text shown to clients for err.
func ClientMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidChapter):
		return ErrInvalidChapter.Error()
	case errors.Is(err, services.ErrValidation):
		return "Missing book_url or chapter_nr"
	case errors.Is(err, services.ErrNotFound):
		return "Chapter audio not found"
	case errors.Is(err, services.ErrBusy):
		return "Server busy, try again shortly"
	case errors.Is(err, services.ErrNoProgress):
		return "Audio generation timed out"
	case errors.Is(err, services.ErrMalformedFrame):
		return "Audio generation returned invalid data"
	case errors.Is(err, services.ErrUpstream):
		return "Audio generation failed"
	case errors.Is(err, services.ErrTranscode):
		return "Audio transcoding failed"
	case errors.Is(err, services.ErrStore):
		return "Audio storage unavailable"
	default:
		return "Streaming failed"
	}
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, services.ErrStore):
		return "check object store credentials and bucket"
	case errors.Is(err, services.ErrTranscode):
		return "check ffmpeg and the cached asset"
	case errors.Is(err, services.ErrBusy):
		return "raise transcode.max_concurrent or add capacity"
	case errors.Is(err, services.ErrUpstream), errors.Is(err, services.ErrNoProgress):
		return "check the generation worker"
	default:
		return "check logs for details"
	}
}
