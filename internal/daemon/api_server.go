package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"novelverse/internal/api"
	"novelverse/internal/config"
	"novelverse/internal/jobaccess"
	"novelverse/internal/logging"
	"novelverse/internal/stream"
)

const defaultJobListLimit = 100

type apiServer struct {
	bind            string
	logger          *slog.Logger
	daemon          *Daemon
	shutdownTimeout time.Duration
	readHeader      time.Duration
	handler         http.Handler

	mu         sync.Mutex
	listener   net.Listener
	server     *http.Server
	cancelBase context.CancelFunc
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:            strings.TrimSpace(cfg.Server.Bind),
		logger:          logging.NewComponentLogger(logger, "api-server"),
		daemon:          d,
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
		readHeader:      time.Duration(cfg.Server.ReadHeaderTimeout) * time.Second,
	}

	auth := BearerAuth{Token: cfg.Server.APIToken, TrustUserIDHeader: cfg.Server.TrustUserIDHeader}
	streamOpts := stream.HandlerOptions{
		Heartbeat:      cfg.Server.HeartbeatInterval(),
		DefaultPreload: cfg.Fallback.DefaultPreload,
		UserID:         userIDFromRequest,
	}
	m := d.comps.Metrics

	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler, protected bool) {
		if protected {
			h = authMiddleware(auth, h)
		}
		mux.Handle(pattern, instrument(m, pattern, h))
	}

	route("/healthz", http.HandlerFunc(srv.handleHealth), false)
	route("/metrics", m.Handler(), false)
	route("/stream", stream.NewHandler(d.service, logger, streamOpts), true)
	if cfg.Server.EnableWebSocket {
		route("/ws/stream", stream.NewWSHandler(d.service, logger, streamOpts, cfg.Server.AllowedOrigins), true)
	}
	route("/api/status", http.HandlerFunc(srv.handleStatus), true)
	route("/api/jobs", http.HandlerFunc(srv.handleJobs), true)
	srv.handler = mux
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// Requests keep ctx values but are only cancelled by stop, so a signal
	// drains streams instead of cutting them.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	// No WriteTimeout: a stream stays open for the length of a chapter.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.readHeader,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.cancelBase = cancel
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "streams and status requests are no longer served"),
			)
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// stop drains in-flight requests for up to the shutdown timeout, then closes
// what remains. Remaining requests, including hijacked websocket sessions
// that Shutdown does not track, see their context cancelled.
func (s *apiServer) stop() {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete; closing connections",
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_shutdown_forced"),
		)
		_ = server.Close()
	}
	s.mu.Lock()
	s.server = nil
	if s.cancelBase != nil {
		s.cancelBase()
		s.cancelBase = nil
	}
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := api.HealthResponse{Status: "ok"}
	if t := s.daemon.comps.Transcoder; t != nil {
		resp.TranscodesActive = t.Pool().Stats().InUse
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ledger := s.daemon.comps.Ledger
	if ledger == nil {
		s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: []api.Job{}})
		return
	}

	query := r.URL.Query()
	statuses, err := jobaccess.ParseStatuses(query["status"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := defaultJobListLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	list, err := ledger.List(r.Context(), limit, statuses...)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "job listing failed", "job_list_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "caller receives a 500"),
		)
		s.writeError(w, http.StatusInternalServerError, "job ledger unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(list)})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
