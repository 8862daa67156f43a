// Package mqttforward publishes mock server request logs to an MQTT broker.
//
// Topics, with the default prefix:
//
//	mockhost/servers/<id>/requests   one JSON message per handled request
//	mockhost/servers/<id>/status     retained {"running":true|false}
//
// Publishing never blocks request handling: tokens are checked in the
// background and failures are only logged.
package mqttforward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/getmockd/mockhost/pkg/logging"
	"github.com/getmockd/mockhost/pkg/mockserver"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "mockhost"

// ErrNotConnected is returned by Connect failures and counted for publishes
// attempted while the client is offline.
var ErrNotConnected = errors.New("mqtt client not connected")

// Config configures a Forwarder.
type Config struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte

	// ConnectTimeout bounds the initial connection. Defaults to 5s.
	ConnectTimeout time.Duration

	// PublishTimeout bounds the background wait on each publish. Defaults
	// to 5s.
	PublishTimeout time.Duration
}

// RequestMessage is the payload published for each request log.
type RequestMessage struct {
	ServerID string                `json:"serverId"`
	Log      mockserver.RequestLog `json:"log"`
}

// StatusMessage is the retained payload published on start and stop.
type StatusMessage struct {
	ServerID string    `json:"serverId"`
	Running  bool      `json:"running"`
	Port     int       `json:"port,omitempty"`
	Time     time.Time `json:"time"`
}

// Forwarder is a mockserver observer backed by a paho client.
type Forwarder struct {
	client         mqtt.Client
	prefix         string
	qos            byte
	connectTimeout time.Duration
	publishTimeout time.Duration
	log            *slog.Logger

	dropped atomic.Uint64
}

var (
	_ mockserver.Observer          = (*Forwarder)(nil)
	_ mockserver.LifecycleObserver = (*Forwarder)(nil)
)

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Forwarder) {
		if log != nil {
			f.log = log
		}
	}
}

// New creates a forwarder. Call Connect before use.
func New(cfg Config, opts ...Option) (*Forwarder, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker URL is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", cfg.QoS)
	}
	f := &Forwarder{
		prefix:         strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:            cfg.QoS,
		connectTimeout: cfg.ConnectTimeout,
		publishTimeout: cfg.PublishTimeout,
		log:            logging.Nop(),
	}
	if f.prefix == "" {
		f.prefix = DefaultTopicPrefix
	}
	if f.connectTimeout <= 0 {
		f.connectTimeout = 5 * time.Second
	}
	if f.publishTimeout <= 0 {
		f.publishTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(f)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("mockhost-%d", time.Now().UnixNano())
	}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(cfg.Broker)
	mo.SetClientID(clientID)
	mo.SetUsername(cfg.Username)
	mo.SetPassword(cfg.Password)
	mo.SetConnectTimeout(f.connectTimeout)
	mo.SetAutoReconnect(true)
	mo.SetCleanSession(true)
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		f.log.Warn("mqtt connection lost", "error", err)
	})
	mo.SetOnConnectHandler(func(mqtt.Client) {
		f.log.Debug("mqtt connected", "broker", cfg.Broker)
	})

	f.client = mqtt.NewClient(mo)
	return f, nil
}

// Connect dials the broker and waits for the CONNACK or ctx.
func (f *Forwarder) Connect(ctx context.Context) error {
	token := f.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
	case <-time.After(f.connectTimeout):
		return fmt.Errorf("%w: connect timed out after %s", ErrNotConnected, f.connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Close disconnects, giving in-flight publishes a short grace period.
func (f *Forwarder) Close() {
	f.client.Disconnect(250)
}

// RequestsTopic returns the topic request logs of serverID go to.
func (f *Forwarder) RequestsTopic(serverID string) string {
	return f.prefix + "/servers/" + topicSegment(serverID) + "/requests"
}

// StatusTopic returns the retained status topic of serverID.
func (f *Forwarder) StatusTopic(serverID string) string {
	return f.prefix + "/servers/" + topicSegment(serverID) + "/status"
}

// Dropped returns how many messages were skipped while disconnected.
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// DeliverLog implements mockserver.Observer.
func (f *Forwarder) DeliverLog(serverID string, log mockserver.RequestLog) {
	f.publish(f.RequestsTopic(serverID), false, RequestMessage{ServerID: serverID, Log: log})
}

// ServerStarted implements mockserver.LifecycleObserver.
func (f *Forwarder) ServerStarted(info mockserver.ServerInfo) {
	f.publish(f.StatusTopic(info.ID), true, StatusMessage{
		ServerID: info.ID, Running: true, Port: info.Port, Time: time.Now(),
	})
}

// ServerStopped implements mockserver.LifecycleObserver.
func (f *Forwarder) ServerStopped(serverID string) {
	f.publish(f.StatusTopic(serverID), true, StatusMessage{
		ServerID: serverID, Running: false, Time: time.Now(),
	})
}

func (f *Forwarder) publish(topic string, retained bool, v any) {
	if !f.client.IsConnectionOpen() {
		f.dropped.Add(1)
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		f.log.Warn("encoding mqtt payload", "topic", topic, "error", err)
		return
	}
	token := f.client.Publish(topic, f.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(f.publishTimeout) {
			f.log.Warn("mqtt publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			f.log.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	}()
}

// topicSegment replaces characters that are not allowed inside one topic
// level.
func topicSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}
