package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"novelverse/internal/frame"
	"novelverse/internal/logging"
	"novelverse/internal/services"
)

// UserIDFunc extracts the caller's user id from an authenticated request.
type UserIDFunc func(r *http.Request) string

// Handler serves GET /stream as server-sent events.
type Handler struct {
	svc            *Service
	logger         *slog.Logger
	heartbeat      time.Duration
	defaultPreload int
	userID         UserIDFunc
}

// HandlerOptions tune request parsing and keep-alives.
type HandlerOptions struct {
	// Heartbeat is the interval of SSE comment keep-alives once streaming has
	// begun. Zero disables them.
	Heartbeat      time.Duration
	DefaultPreload int
	UserID         UserIDFunc
}

// NewHandler wraps svc.
func NewHandler(svc *Service, logger *slog.Logger, opts HandlerOptions) *Handler {
	return &Handler{
		svc:            svc,
		logger:         logging.NewComponentLogger(logger, "stream-http"),
		heartbeat:      opts.Heartbeat,
		defaultPreload: opts.DefaultPreload,
		userID:         opts.UserID,
	}
}

// ParseRequest reads book_url, chapter_nr and preload from the query string.
func ParseRequest(r *http.Request, defaultPreload int, userID UserIDFunc) (Request, error) {
	q := r.URL.Query()
	req := Request{
		BookURL: strings.TrimSpace(q.Get("book_url")),
		Chapter: strings.TrimSpace(q.Get("chapter_nr")),
		Preload: defaultPreload,
	}
	if raw := strings.TrimSpace(q.Get("preload")); raw != "" {
		preload, err := strconv.Atoi(raw)
		if err != nil || preload < 0 {
			return req, services.Wrap(services.ErrValidation, "request", "parse preload", "preload must be a non-negative integer", err)
		}
		req.Preload = preload
	}
	if userID != nil {
		req.UserID = userID(r)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	// "07" and "7" name the same object.
	chapter, _ := ParseChapter(req.Chapter)
	req.Chapter = strconv.Itoa(chapter)
	return req, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, err := ParseRequest(r, h.defaultPreload, h.userID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ClientMessage(err))
		return
	}

	ctx := r.Context()
	sink := newSSESink(w)
	session := h.svc.NewSession(req)
	if h.heartbeat > 0 {
		stop := sink.keepAlive(ctx, h.heartbeat)
		defer stop()
	}

	err = session.Run(ctx, sink)
	if err == nil || sink.Committed() {
		return
	}
	status := services.HTTPStatus(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	WriteError(w, status, ClientMessage(err))
}

// WriteError writes {"error": message} with status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sseSink commits event-stream headers on the first frame so earlier
// failures can still be answered with a status code.
type sseSink struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	enc       *frame.Encoder
	committed bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, enc: frame.NewEncoder(w)}
}

func (s *sseSink) Send(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit()
	return s.enc.Encode(f)
}

func (s *sseSink) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *sseSink) commit() {
	if s.committed {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.committed = true
}

// keepAlive writes a comment every interval once the response is committed.
func (s *sseSink) keepAlive(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.committed {
					_ = s.enc.Comment("keep-alive")
				}
				s.mu.Unlock()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
