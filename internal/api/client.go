package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrAPIUnavailable reports that no daemon answered.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client reads the daemon's /api routes.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// JobQuery filters GET /api/jobs.
type JobQuery struct {
	Statuses []string
	Limit    int
}

// NewClient targets bind, a host:port or URL. An empty bind yields a nil
// client whose methods report ErrAPIUnavailable.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var payload DaemonStatus
	err := c.get(ctx, "/api/status", nil, &payload)
	return payload, err
}

// Jobs fetches GET /api/jobs.
func (c *Client) Jobs(ctx context.Context, q JobQuery) ([]Job, error) {
	values := url.Values{}
	for _, status := range q.Statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values.Add("status", trimmed)
		}
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var payload JobListResponse
	if err := c.get(ctx, "/api/jobs", values, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

// Health fetches GET /healthz.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var payload HealthResponse
	err := c.get(ctx, "/healthz", nil, &payload)
	return payload, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("api %s returned status %d: %s", path, resp.StatusCode, errorMessage(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
