package stream

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"novelverse/internal/frame"
	"novelverse/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSHandler serves GET /ws/stream: the same frames as Handler, one per text
// message. The connection is upgraded before the session starts, so every
// failure is reported as an error frame followed by a close.
type WSHandler struct {
	svc            *Service
	logger         *slog.Logger
	defaultPreload int
	userID         UserIDFunc
	upgrader       websocket.Upgrader
}

// NewWSHandler wraps svc. allowedOrigins lists origins permitted to open
// sockets; empty means same-origin only.
func NewWSHandler(svc *Service, logger *slog.Logger, opts HandlerOptions, allowedOrigins []string) *WSHandler {
	h := &WSHandler{
		svc:            svc,
		logger:         logging.NewComponentLogger(logger, "stream-ws"),
		defaultPreload: opts.DefaultPreload,
		userID:         opts.UserID,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r, h.defaultPreload, h.userID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ClientMessage(err))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: conn}
	go sink.readPump(ctx, cancel)
	stopPing := sink.pinger(ctx)
	defer stopPing()

	session := h.svc.NewSession(req)
	runErr := session.Run(ctx, sink)
	if runErr != nil && !sink.sentTerminal() {
		_ = sink.Send(frame.Error{Message: ClientMessage(runErr)})
	}
	sink.close(websocket.CloseNormalClosure, "")
}

// wsSink writes frames as text messages. Writes are serialized because
// gorilla/websocket supports one concurrent writer.
type wsSink struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	terminal bool
}

func (s *wsSink) Send(f frame.Frame) error {
	payload, err := frame.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	if frame.IsTerminal(f) {
		s.terminal = true
	}
	return nil
}

// Committed is always true: the upgrade already answered the request.
func (s *wsSink) Committed() bool { return true }

func (s *wsSink) sentTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

func (s *wsSink) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

// readPump discards client messages and cancels the session when the client
// goes away.
func (s *wsSink) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *wsSink) pinger(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		if ok {
			return true
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
