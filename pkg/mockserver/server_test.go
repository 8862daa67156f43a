package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logSink collects emitted request logs.
type logSink struct {
	mu   sync.Mutex
	logs []RequestLog
}

func (s *logSink) emit(l RequestLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
}

func (s *logSink) all() []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RequestLog(nil), s.logs...)
}

func newHandlerServer(t *testing.T, endpoints ...MockEndpoint) (*Server, *logSink) {
	t.Helper()
	sink := &logSink{}
	srv := NewServer(&MockServer{ID: "s1", Endpoints: endpoints}, WithEmitter(sink.emit))
	return srv, sink
}

// ============================================================================
// Request pipeline
// ============================================================================

func TestServeHTTP_MatchedEndpoint(t *testing.T) {
	t.Parallel()

	srv, sink := newHandlerServer(t, MockEndpoint{
		ID:         "status",
		Method:     "GET",
		Path:       "/status",
		Enabled:    true,
		StatusCode: 200,
		ResponseHeaders: []Header{
			{Name: "Content-Type", Value: "text/plain", Enabled: true},
			{Name: "X-Disabled", Value: "x", Enabled: false},
			{Name: "X-Empty", Value: "", Enabled: true},
			{Name: "", Value: "orphan", Enabled: true},
		},
		ResponseBody: "ok",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, PATCH, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, rec.Header().Get("X-Disabled"))
	assert.NotContains(t, rec.Header(), "X-Empty")

	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, "GET", logs[0].Method)
	assert.Equal(t, "/status", logs[0].Path)
	assert.Equal(t, 200, logs[0].ResponseStatus)
	assert.Equal(t, "status", logs[0].MatchedEndpointID)
	assert.Empty(t, logs[0].Body)
}

func TestServeHTTP_StatusZeroMeansOK(t *testing.T) {
	t.Parallel()

	srv, _ := newHandlerServer(t, MockEndpoint{Method: "GET", Path: "/", Enabled: true})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeHTTP_ConfiguredHeaderOverridesCORS(t *testing.T) {
	t.Parallel()

	srv, _ := newHandlerServer(t, MockEndpoint{
		Method: "GET", Path: "/", Enabled: true,
		ResponseHeaders: []Header{{Name: "Access-Control-Allow-Origin", Value: "https://app.test", Enabled: true}},
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "https://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeHTTP_NotFound(t *testing.T) {
	t.Parallel()

	srv, sink := newHandlerServer(t, MockEndpoint{Method: "GET", Path: "/status", Enabled: true})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing?q=1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), "\n  \"error\"")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "No mock endpoint configured for GET /missing?q=1", body["message"])

	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, 404, logs[0].ResponseStatus)
	assert.Equal(t, "/missing?q=1", logs[0].Path)
	assert.Empty(t, logs[0].MatchedEndpointID)
}

func TestServeHTTP_Options(t *testing.T) {
	t.Parallel()

	srv, sink := newHandlerServer(t, MockEndpoint{
		ID: "opt", Method: "OPTIONS", Path: "/things", Enabled: true,
		StatusCode:      201,
		ResponseBody:    "ignored",
		ResponseHeaders: []Header{{Name: "X-Custom", Value: "yes", Enabled: true}},
	})

	t.Run("matched endpoint gets 204 without body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/things", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unmatched path still gets preflight answer", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything/else", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, PUT, DELETE, PATCH, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	assert.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 10*time.Millisecond)
	for _, l := range sink.all() {
		assert.Equal(t, 204, l.ResponseStatus)
	}
}

func TestServeHTTP_LogsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv, sink := newHandlerServer(t, MockEndpoint{Method: "POST", Path: "/users", Enabled: true, StatusCode: 201})

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"ada"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("X-Multi", "a")
	req.Header.Add("X-Multi", "b")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, `{"name":"ada"}`, logs[0].Body)
	assert.Equal(t, "application/json", logs[0].Headers["Content-Type"])
	assert.Equal(t, "a, b", logs[0].Headers["X-Multi"])
	assert.Equal(t, "example.com", logs[0].Headers["Host"])
	assert.False(t, logs[0].Timestamp.IsZero())
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	t.Parallel()

	sink := &logSink{}
	srv := NewServer(&MockServer{ID: "s1", Endpoints: []MockEndpoint{
		{Method: "POST", Path: "/upload", Enabled: true},
	}}, WithEmitter(sink.emit), WithMaxBodySize(8))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789abcdef")))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "body_too_large")
	logs := sink.all()
	require.Len(t, logs, 1)
	assert.Equal(t, 413, logs[0].ResponseStatus)
}

func TestServeHTTP_HeadOmitsBody(t *testing.T) {
	t.Parallel()

	srv, _ := newHandlerServer(t, MockEndpoint{Method: "HEAD", Path: "/", Enabled: true, ResponseBody: "body"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServeHTTP_NoEmitter(t *testing.T) {
	t.Parallel()

	srv := NewServer(&MockServer{ID: "s1"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// Listener lifecycle
// ============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	srv := NewServer(&MockServer{ID: "s1", Port: port, Endpoints: []MockEndpoint{
		{Method: "GET", Path: "/ping", Enabled: true, ResponseBody: "pong"},
	}}, WithHost("127.0.0.1"))

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, port, srv.Port())
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	assert.Empty(t, srv.Addr())

	_, err = net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	assert.Error(t, err, "new connections must be refused after stop")

	err = srv.Stop(context.Background())
	assert.True(t, errors.Is(err, ErrNotListening))
}

func TestServer_StartPortTaken(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(&MockServer{ID: "s1", Port: port}, WithHost("127.0.0.1"))
	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortInUse))

	var pe *PortInUseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, port, pe.Port)
	assert.Empty(t, srv.Addr())
}

func TestServer_StartBadHost(t *testing.T) {
	t.Parallel()

	srv := NewServer(&MockServer{ID: "s1"}, WithHost("203.0.113.254"))
	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrListener))
	assert.False(t, errors.Is(err, ErrPortInUse))
}

func TestServer_StartTwice(t *testing.T) {
	t.Parallel()

	srv := NewServer(&MockServer{ID: "s1"}, WithHost("127.0.0.1"))
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	assert.True(t, errors.Is(srv.Start(context.Background()), ErrListener))
}

func TestServer_StopWaitsForDelayedResponse(t *testing.T) {
	t.Parallel()

	srv := NewServer(&MockServer{ID: "s1", Endpoints: []MockEndpoint{
		{Method: "GET", Path: "/slow", Enabled: true, Delay: 200, ResponseBody: "late"},
	}}, WithHost("127.0.0.1"))
	require.NoError(t, srv.Start(context.Background()))
	addr := srv.Addr()

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/slow")
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		done <- result{body: string(b), err: err}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Stop(context.Background()))

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "late", r.body)
}

func TestServer_MaxConnections(t *testing.T) {
	t.Parallel()

	srv := NewServer(&MockServer{ID: "s1", MaxConnections: 1, Endpoints: []MockEndpoint{
		{Method: "GET", Path: "/", Enabled: true},
	}}, WithHost("127.0.0.1"))
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 3; i++ {
		resp, err := client.Get("http://" + srv.Addr() + "/")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
