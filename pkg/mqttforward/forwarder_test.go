package mqttforward

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	mqttclient "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockhost/pkg/mockserver"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// startBroker runs an embedded broker accepting any client.
func startBroker(t *testing.T) int {
	t.Helper()
	port := getFreePort(t)

	b, err := NewBroker(BrokerConfig{Addr: fmt.Sprintf("127.0.0.1:%d", port)}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(context.Background())
	})
	return port
}

func subscriber(t *testing.T, port int, topic string) <-chan mqttclient.Message {
	t.Helper()
	opts := mqttclient.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port))
	opts.SetClientID(fmt.Sprintf("sub-%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqttclient.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "connect timeout")
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(250) })

	msgs := make(chan mqttclient.Message, 16)
	sub := client.Subscribe(topic, 1, func(_ mqttclient.Client, m mqttclient.Message) {
		msgs <- m
	})
	require.True(t, sub.WaitTimeout(5*time.Second), "subscribe timeout")
	require.NoError(t, sub.Error())
	return msgs
}

func connectedForwarder(t *testing.T, port int, prefix string) *Forwarder {
	t.Helper()
	f, err := New(Config{
		Broker:      fmt.Sprintf("tcp://127.0.0.1:%d", port),
		ClientID:    fmt.Sprintf("fwd-%d", time.Now().UnixNano()),
		TopicPrefix: prefix,
		QoS:         1,
	})
	require.NoError(t, err)
	require.NoError(t, f.Connect(context.Background()))
	t.Cleanup(f.Close)
	return f
}

func waitMessage(t *testing.T, ch <-chan mqttclient.Message) mqttclient.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

// ============================================================================
// Publishing
// ============================================================================

func TestForwarder_DeliverLog(t *testing.T) {
	port := startBroker(t)
	msgs := subscriber(t, port, "test/servers/+/requests")
	f := connectedForwarder(t, port, "test")

	f.DeliverLog("users-api", mockserver.RequestLog{Method: "GET", Path: "/users/1", ResponseStatus: 200, ResponseTime: 3})

	m := waitMessage(t, msgs)
	assert.Equal(t, "test/servers/users-api/requests", m.Topic())
	assert.False(t, m.Retained())

	var got RequestMessage
	require.NoError(t, json.Unmarshal(m.Payload(), &got))
	assert.Equal(t, "users-api", got.ServerID)
	assert.Equal(t, "/users/1", got.Log.Path)
	assert.Equal(t, 200, got.Log.ResponseStatus)
}

func TestForwarder_StatusIsRetained(t *testing.T) {
	port := startBroker(t)
	f := connectedForwarder(t, port, "")

	f.ServerStarted(mockserver.ServerInfo{ID: "s1", Port: 4010})
	time.Sleep(200 * time.Millisecond)

	// A late subscriber still sees the last status.
	msgs := subscriber(t, port, "mockhost/servers/s1/status")
	m := waitMessage(t, msgs)
	assert.True(t, m.Retained())

	var st StatusMessage
	require.NoError(t, json.Unmarshal(m.Payload(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, 4010, st.Port)

	f.ServerStopped("s1")
	m = waitMessage(t, msgs)
	require.NoError(t, json.Unmarshal(m.Payload(), &st))
	assert.False(t, st.Running)
}

func TestForwarder_WithManager(t *testing.T) {
	port := startBroker(t)
	msgs := subscriber(t, port, "mockhost/servers/#")
	f := connectedForwarder(t, port, "mockhost")

	m := mockserver.NewManager(mockserver.WithBindHost("127.0.0.1"), mockserver.WithObserver(f))
	info, err := m.StartServer(context.Background(), &mockserver.MockServer{
		ID:        "fwd",
		Endpoints: []mockserver.MockEndpoint{{Method: "GET", Path: "/ping", Enabled: true}},
	})
	require.NoError(t, err)

	status := waitMessage(t, msgs)
	assert.Equal(t, "mockhost/servers/fwd/status", status.Topic())

	conn, err := net.Dial("tcp", info.Addr)
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	buf := make([]byte, 512)
	_, _ = conn.Read(buf)
	conn.Close()

	req := waitMessage(t, msgs)
	assert.Equal(t, "mockhost/servers/fwd/requests", req.Topic())

	m.StopAllServers(context.Background())
	stopped := waitMessage(t, msgs)
	assert.Equal(t, "mockhost/servers/fwd/status", stopped.Topic())
}

// ============================================================================
// Configuration
// ============================================================================

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Broker: "tcp://127.0.0.1:1", QoS: 3})
	assert.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	f, err := New(Config{
		Broker:         fmt.Sprintf("tcp://127.0.0.1:%d", getFreePort(t)),
		ConnectTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	err = f.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)

	f.DeliverLog("s1", mockserver.RequestLog{Method: "GET"})
	assert.Equal(t, uint64(1), f.Dropped())
}

func TestTopics(t *testing.T) {
	t.Parallel()

	f, err := New(Config{Broker: "tcp://127.0.0.1:1883", TopicPrefix: "dev/"})
	require.NoError(t, err)

	assert.Equal(t, "dev/servers/a/requests", f.RequestsTopic("a"))
	assert.Equal(t, "dev/servers/a_b_c_/status", f.StatusTopic("a/b+c#"))
	assert.Equal(t, "dev/servers/_/status", f.StatusTopic(""))
}
