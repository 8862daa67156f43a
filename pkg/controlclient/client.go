// Package controlclient talks to the control API served by package control.
package controlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/getmockd/mockhost/pkg/control"
	"github.com/getmockd/mockhost/pkg/mockserver"
	"github.com/getmockd/mockhost/pkg/requestlog"
)

// CodeConnection is the APIError code used when the API cannot be reached.
const CodeConnection = "connection_error"

// APIError is an error response from the control API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap maps the error code back to the mockserver sentinel, so callers can
// use errors.Is(err, mockserver.ErrNotRunning) against a remote manager.
func (e *APIError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return control.SentinelForCode(e.Code)
}

// IsConnectionError reports whether err means the API was unreachable.
func IsConnectionError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeConnection
}

// Client is a control API client.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	handshakeTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the API at baseURL, e.g. "http://127.0.0.1:4290".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health returns the API health report.
func (c *Client) Health(ctx context.Context) (*control.HealthResponse, error) {
	var out control.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartServer asks the API to start cfg.
func (c *Client) StartServer(ctx context.Context, cfg *mockserver.MockServer) (*mockserver.ServerInfo, error) {
	var out mockserver.ServerInfo
	if err := c.do(ctx, http.MethodPost, "/servers", cfg, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopServer stops the server with the given id.
func (c *Client) StopServer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/servers/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

// StopAll stops every running server.
func (c *Client) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/servers", nil, http.StatusNoContent, nil)
}

// Status returns the status of one server.
func (c *Client) Status(ctx context.Context, id string) (*control.ServerStatus, error) {
	var out control.ServerStatus
	if err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(id), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsRunning reports whether the server with the given id is running.
func (c *Client) IsRunning(ctx context.Context, id string) (bool, error) {
	st, err := c.Status(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Running, nil
}

// ListServers returns the running servers.
func (c *Client) ListServers(ctx context.Context) ([]mockserver.ServerInfo, error) {
	var out control.ServerList
	if err := c.do(ctx, http.MethodGet, "/servers", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// EventQuery selects events for Recent and Follow.
type EventQuery struct {
	ServerID     string
	RequestsOnly bool
	Limit        int  // Recent only; 0 uses the server default
	Backlog      bool // Follow only; replay retained events first
}

func (q EventQuery) values() url.Values {
	v := url.Values{}
	if q.ServerID != "" {
		v.Set("server", q.ServerID)
	}
	if q.RequestsOnly {
		v.Set("requests", "true")
	}
	return v
}

// Recent returns retained events, newest first.
func (c *Client) Recent(ctx context.Context, q EventQuery) ([]requestlog.Event, error) {
	v := q.values()
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/events/recent"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}

	var out control.RecentEvents
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Follow streams events to fn until ctx is done, fn returns an error, or
// the API closes the stream. A normal or going-away close returns nil.
func (c *Client) Follow(ctx context.Context, q EventQuery, fn func(requestlog.Event) error) error {
	v := q.values()
	if q.Backlog {
		v.Set("backlog", "true")
	}
	wsURL, err := c.websocketURL("/events", v)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return c.parseError(resp)
		}
		return &APIError{
			Code:    CodeConnection,
			Message: fmt.Sprintf("cannot connect to control API at %s: %v", c.baseURL, err),
			Err:     err,
		}
	}
	defer conn.Close()

	// ReadMessage has no context; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}

		var ev requestlog.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) websocketURL(path string, v url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid control API URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{
			Code:    CodeConnection,
			Message: fmt.Sprintf("cannot connect to control API at %s: %v", c.baseURL, err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: msg}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       "unknown_error",
		Message:    fmt.Sprintf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}
