package mockserver

import (
	"fmt"
	"strings"
	"time"
)

// Header is one configured response header.
type Header struct {
	Name    string `json:"name" yaml:"name"`
	Value   string `json:"value" yaml:"value"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// MockEndpoint is a (method, path pattern) rule producing a canned response.
type MockEndpoint struct {
	ID              string   `json:"id" yaml:"id"`
	Method          string   `json:"method" yaml:"method"`
	Path            string   `json:"path" yaml:"path"`
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	StatusCode      int      `json:"statusCode" yaml:"statusCode"`
	ResponseHeaders []Header `json:"responseHeaders,omitempty" yaml:"responseHeaders,omitempty"`
	ResponseBody    string   `json:"responseBody,omitempty" yaml:"responseBody,omitempty"`
	// Delay is in milliseconds.
	Delay int `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// Status returns the configured status code, 200 when unset.
func (e *MockEndpoint) Status() int {
	if e.StatusCode == 0 {
		return 200
	}
	return e.StatusCode
}

// MockServer is the configuration of one mock server.
type MockServer struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Port      int            `json:"port" yaml:"port"`
	Endpoints []MockEndpoint `json:"endpoints" yaml:"endpoints"`

	// MaxConnections caps concurrently open connections. 0 means unlimited.
	MaxConnections int `json:"maxConnections,omitempty" yaml:"maxConnections,omitempty"`
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (s *MockServer) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, s.Port)
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("%w: maxConnections must not be negative", ErrInvalidConfig)
	}
	for i := range s.Endpoints {
		if err := s.Endpoints[i].validate(); err != nil {
			return fmt.Errorf("%w: endpoint %d: %s", ErrInvalidConfig, i, err.Error())
		}
	}
	return nil
}

func (e *MockEndpoint) validate() error {
	switch {
	case e.Method == "":
		return fmt.Errorf("method is required")
	case strings.ContainsAny(e.Method, " \t\r\n"):
		return fmt.Errorf("method %q contains whitespace", e.Method)
	case !strings.HasPrefix(e.Path, "/"):
		return fmt.Errorf("path %q must start with /", e.Path)
	case strings.Contains(e.Path, "?"):
		return fmt.Errorf("path %q must not contain a query string", e.Path)
	case e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode > 599):
		return fmt.Errorf("statusCode %d out of range 200-599", e.StatusCode)
	case e.Delay < 0:
		return fmt.Errorf("delay %d must not be negative", e.Delay)
	}
	return nil
}

// Clone returns a deep copy so callers can keep mutating their value while
// the server runs.
func (s *MockServer) Clone() *MockServer {
	c := *s
	c.Endpoints = make([]MockEndpoint, len(s.Endpoints))
	for i, ep := range s.Endpoints {
		ep.ResponseHeaders = append([]Header(nil), ep.ResponseHeaders...)
		c.Endpoints[i] = ep
	}
	return &c
}

// DisplayName returns Name, falling back to ID.
func (s *MockServer) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// RequestLog describes one handled request. It is created once per request,
// handed to the observer and then dropped.
type RequestLog struct {
	Method string `json:"method"`
	// Path is the raw request target, query string included.
	Path           string            `json:"path"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body,omitempty"`
	ResponseStatus int               `json:"responseStatus"`
	// ResponseTime is in milliseconds and includes any configured delay.
	ResponseTime      int64     `json:"responseTime"`
	Timestamp         time.Time `json:"timestamp"`
	MatchedEndpointID string    `json:"matchedEndpointId,omitempty"`
}

// ServerInfo describes a running server.
type ServerInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Port      int       `json:"port"`
	Addr      string    `json:"addr"`
	Endpoints int       `json:"endpoints"`
	StartedAt time.Time `json:"startedAt"`
}
