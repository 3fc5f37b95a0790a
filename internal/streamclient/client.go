package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"novelverse/internal/frame"
	"novelverse/internal/logging"
	"novelverse/internal/playback"
)

// Client opens chapter streams against one server.
type Client struct {
	baseURL    *url.URL
	token      string
	userID     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. It should not set a
// Timeout, which would cut long streams.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithUserID sends the X-User-ID header.
func WithUserID(userID string) Option {
	return func(c *Client) {
		c.userID = strings.TrimSpace(userID)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "streamclient")
	return c, nil
}

// Request identifies a chapter. A zero Preload leaves the server default.
type Request struct {
	BookURL string
	Chapter string
	Preload int
}

func (r Request) query() url.Values {
	q := url.Values{}
	q.Set("book_url", r.BookURL)
	q.Set("chapter_nr", r.Chapter)
	if r.Preload > 0 {
		q.Set("preload", strconv.Itoa(r.Preload))
	}
	return q
}

// StatusError is a non-2xx answer to a stream request.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream request: http %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Open starts an SSE stream for req.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	endpoint := c.endpoint("/stream", req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	c.logger.Debug("stream opened",
		logging.String("book_url", req.BookURL),
		logging.String("chapter", req.Chapter),
	)
	return &Stream{body: resp.Body, dec: frame.NewDecoder(resp.Body)}, nil
}

// OpenWS starts a websocket stream for req.
func (c *Client) OpenWS(ctx context.Context, req Request) (*WSStream, error) {
	u := c.url("/ws/stream", req)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	// Reads do not observe ctx, so cancellation closes the connection.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return &WSStream{conn: conn, stop: stop}, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		h.Set("X-User-ID", c.userID)
	}
}

func (c *Client) url(path string, req Request) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = req.query().Encode()
	return &u
}

func (c *Client) endpoint(path string, req Request) string {
	return c.url(path, req).String()
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: message}
}

// Stream is an open SSE chapter stream.
type Stream struct {
	body io.ReadCloser
	dec  *frame.Decoder
}

// Next returns the next frame, or io.EOF when the server closes the stream.
func (s *Stream) Next() (frame.Frame, error) {
	return s.dec.Next()
}

// Close releases the connection, cancelling the server-side session.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Pump feeds the stream into e until a terminal frame or the end of the
// transport.
func (s *Stream) Pump(ctx context.Context, e *playback.Engine) error {
	return playback.Feed(ctx, s, e)
}

// WSStream is an open websocket chapter stream.
type WSStream struct {
	conn *websocket.Conn
	stop func() bool
}

// Next returns the next frame, or io.EOF after a normal close.
func (s *WSStream) Next() (frame.Frame, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read stream message: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		f, err := frame.Parse(data)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// Close sends a close message and drops the connection.
func (s *WSStream) Close() error {
	s.stop()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	writeErr := s.conn.WriteMessage(websocket.CloseMessage, msg)
	closeErr := s.conn.Close()
	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return errors.Join(writeErr, closeErr)
	}
	return closeErr
}

// Pump feeds the stream into e.
func (s *WSStream) Pump(ctx context.Context, e *playback.Engine) error {
	return playback.Feed(ctx, s, e)
}

// ChapterSource opens chapters of one book for a playback.Player.
type ChapterSource struct {
	Client    *Client
	BookURL   string
	Preload   int
	WebSocket bool
}

// OpenChapter implements playback.Source.
func (s ChapterSource) OpenChapter(ctx context.Context, chapter int) (playback.FrameReader, error) {
	req := Request{BookURL: s.BookURL, Chapter: strconv.Itoa(chapter), Preload: s.Preload}
	if s.WebSocket {
		stream, err := s.Client.OpenWS(ctx, req)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
	stream, err := s.Client.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
