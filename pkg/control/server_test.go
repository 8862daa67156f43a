package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockhost/pkg/httputil"
	"github.com/getmockd/mockhost/pkg/metrics"
	"github.com/getmockd/mockhost/pkg/mockserver"
	"github.com/getmockd/mockhost/pkg/requestlog"
)

type fixture struct {
	manager *mockserver.Manager
	hub     *requestlog.Hub
	api     *Server
	ts      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hub := requestlog.NewHub(100)
	collector := metrics.NewCollector()
	manager := mockserver.NewManager(
		mockserver.WithBindHost("127.0.0.1"),
		mockserver.WithObserver(mockserver.MultiObserver{hub, collector}),
	)
	api := NewServer(manager,
		WithEvents(hub),
		WithMetrics(collector.Handler()),
		WithVersion("test"),
	)
	ts := httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		_ = api.Stop(context.Background())
		ts.Close()
		manager.StopAllServers(context.Background())
	})
	return &fixture{manager: manager, hub: hub, api: api, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func pingServer(id string) *mockserver.MockServer {
	return &mockserver.MockServer{
		ID:   id,
		Name: "Ping",
		Endpoints: []mockserver.MockEndpoint{
			{ID: "ping", Method: "GET", Path: "/ping", Enabled: true, StatusCode: 200, ResponseBody: "pong"},
		},
	}
}

func decodeError(t *testing.T, data []byte) httputil.ErrorBody {
	t.Helper()
	var body httputil.ErrorBody
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 0, health.Servers)
}

func TestStartStatusStop(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodPost, "/servers", pingServer("srv-a"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var info mockserver.ServerInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "srv-a", info.ID)
	assert.NotZero(t, info.Port)
	assert.Equal(t, 1, info.Endpoints)

	mock, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", info.Port))
	require.NoError(t, err)
	body, _ := io.ReadAll(mock.Body)
	mock.Body.Close()
	assert.Equal(t, "pong", string(body))

	resp, data = f.do(t, http.MethodGet, "/servers/srv-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status ServerStatus
	require.NoError(t, json.Unmarshal(data, &status))
	assert.True(t, status.Running)
	require.NotNil(t, status.Server)
	assert.Equal(t, info.Port, status.Server.Port)

	resp, data = f.do(t, http.MethodGet, "/servers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ServerList
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, 1, list.Total)

	resp, _ = f.do(t, http.MethodDelete, "/servers/srv-a", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = f.do(t, http.MethodGet, "/servers/srv-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = ServerStatus{}
	require.NoError(t, json.Unmarshal(data, &status))
	assert.False(t, status.Running)
	assert.Nil(t, status.Server)
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodPost, "/servers", pingServer("dup"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	t.Run("already running", func(t *testing.T) {
		resp, data := f.do(t, http.MethodPost, "/servers", pingServer("dup"))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, CodeAlreadyRunning, decodeError(t, data).Error)
	})

	t.Run("port in use", func(t *testing.T) {
		info, ok := f.manager.Get("dup")
		require.True(t, ok)
		cfg := pingServer("other")
		cfg.Port = info.Port
		resp, data := f.do(t, http.MethodPost, "/servers", cfg)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, CodePortInUse, decodeError(t, data).Error)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := pingServer("bad")
		cfg.Endpoints[0].Path = "no-slash"
		resp, data := f.do(t, http.MethodPost, "/servers", cfg)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeInvalidConfig, decodeError(t, data).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, data := f.do(t, http.MethodPost, "/servers", `{"id":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeInvalidBody, decodeError(t, data).Error)
	})

	t.Run("unknown field", func(t *testing.T) {
		resp, data := f.do(t, http.MethodPost, "/servers", `{"id":"x","bogus":1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeInvalidBody, decodeError(t, data).Error)
	})
}

func TestStopNotRunning(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodDelete, "/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotRunning, decodeError(t, data).Error)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"a", "b", "c"} {
		resp, data := f.do(t, http.MethodPost, "/servers", pingServer(id))
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	}

	resp, _ := f.do(t, http.MethodDelete, "/servers", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.manager.Servers())
}

func TestRecentEvents(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodPost, "/servers", pingServer("rec"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	info, _ := f.manager.Get("rec")

	for i := 0; i < 3; i++ {
		r, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", info.Port))
		require.NoError(t, err)
		r.Body.Close()
	}

	require.Eventually(t, func() bool { return f.hub.Count() == 4 }, 2*time.Second, 10*time.Millisecond)

	resp, data = f.do(t, http.MethodGet, "/events/recent?server=rec&requests=true&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent RecentEvents
	require.NoError(t, json.Unmarshal(data, &recent))
	require.Len(t, recent.Events, 2)
	for _, ev := range recent.Events {
		assert.Equal(t, requestlog.KindRequest, ev.Kind)
		require.NotNil(t, ev.Log)
		assert.Equal(t, "/ping", ev.Log.Path)
	}

	resp, data = f.do(t, http.MethodGet, "/events/recent?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_limit", decodeError(t, data).Error)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodPost, "/servers", pingServer("stream"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	info, _ := f.manager.Get("stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/events?server=stream&backlog=true"
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first requestlog.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, requestlog.KindStarted, first.Kind)
	assert.Equal(t, "stream", first.ServerID)

	r, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", info.Port))
	require.NoError(t, err)
	r.Body.Close()

	var second requestlog.Event
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, requestlog.KindRequest, second.Kind)
	require.NotNil(t, second.Log)
	assert.Equal(t, 200, second.Log.ResponseStatus)

	resp, _ = f.do(t, http.MethodDelete, "/servers/stream", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var third requestlog.Event
	require.NoError(t, wsjson.Read(ctx, conn, &third))
	assert.Equal(t, requestlog.KindStopped, third.Kind)

	require.NoError(t, conn.Close(ws.StatusNormalClosure, ""))
}

func TestEventStreamEndsOnStop(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/events"
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.api.Stop(ctx))

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, ws.StatusGoingAway, ws.CloseStatus(err))
}

func TestEventsDisabled(t *testing.T) {
	api := NewServer(mockserver.NewManager())
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	for _, path := range []string{"/events", "/events/recent", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodPost, "/servers", pingServer("m"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	info, _ := f.manager.Get("m")

	r, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", info.Port))
	require.NoError(t, err)
	r.Body.Close()

	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/metrics", nil)
		return strings.Contains(string(body), `mockhost_requests_total{method="GET",server="m",status="200"} 1`)
	}, 2*time.Second, 20*time.Millisecond)

	_, body := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, string(body), "mockhost_servers_running 1")
}

func TestStartOnListener(t *testing.T) {
	api := NewServer(mockserver.NewManager())
	require.NoError(t, api.Start(context.Background(), "127.0.0.1:0"))
	defer api.Stop(context.Background())

	addr := api.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, api.Start(context.Background(), "127.0.0.1:0"))

	require.NoError(t, api.Stop(context.Background()))
	assert.Empty(t, api.Addr())
}

func TestSentinelForCode(t *testing.T) {
	assert.ErrorIs(t, SentinelForCode(CodeNotRunning), mockserver.ErrNotRunning)
	assert.ErrorIs(t, SentinelForCode(CodePortInUse), mockserver.ErrPortInUse)
	assert.Nil(t, SentinelForCode("something_else"))
}

// vanishingManager reports a server as running but has no info for it, as
// when the server stops between the two lookups.
type vanishingManager struct {
	*mockserver.Manager
}

func (vanishingManager) IsRunning(string) bool { return true }

func (vanishingManager) Get(string) (mockserver.ServerInfo, bool) {
	return mockserver.ServerInfo{}, false
}

func TestServerStatusUsesSingleLookup(t *testing.T) {
	api := NewServer(vanishingManager{mockserver.NewManager()})
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/servers/gone")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status ServerStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "gone", status.ID)
	assert.False(t, status.Running)
	assert.Nil(t, status.Server)
}
