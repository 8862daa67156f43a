package mqttforward

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/getmockd/mockhost/pkg/logging"
)

// User is a broker credential.
type User struct {
	Username string
	Password string
}

// BrokerConfig configures an embedded broker.
type BrokerConfig struct {
	// Addr is the TCP listen address, e.g. "127.0.0.1:1883".
	Addr string

	// Users restricts connections to these credentials. Empty allows
	// anonymous clients.
	Users []User
}

// Broker is an embedded MQTT broker that request logs can be forwarded to
// when no external broker is available.
type Broker struct {
	cfg    BrokerConfig
	server *mqtt.Server
	log    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewBroker creates a broker. Call Start to listen.
func NewBroker(cfg BrokerConfig, log *slog.Logger) (*Broker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("mqtt broker listen address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("invalid mqtt listen address %q: %w", cfg.Addr, err)
	}
	if log == nil {
		log = logging.Nop()
	}

	server := mqtt.New(&mqtt.Options{InlineClient: true})

	var err error
	if len(cfg.Users) > 0 {
		err = server.AddHook(&authHook{users: cfg.Users}, nil)
	} else {
		// mochi requires an auth hook to accept any connection.
		err = server.AddHook(new(auth.AllowHook), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	return &Broker{cfg: cfg, server: server, log: log}, nil
}

// Start binds the listener and serves in the background.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broker is already running")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	listener := listeners.NewTCP(listeners.Config{
		ID:      "mockhost-" + b.cfg.Addr,
		Address: b.cfg.Addr,
	})
	if err := b.server.AddListener(listener); err != nil {
		return fmt.Errorf("mqtt listen on %s: %w", b.cfg.Addr, err)
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("MQTT broker error", "error", err)
		}
	}()

	b.running = true
	b.log.Info("embedded MQTT broker listening", "addr", b.cfg.Addr)
	return nil
}

// URL returns the broker URL clients on this host connect to.
func (b *Broker) URL() string {
	host, port, _ := net.SplitHostPort(b.cfg.Addr)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "tcp://" + net.JoinHostPort(host, port)
}

// Stop closes the broker and every client connection. It returns when the
// broker is closed or ctx is done, whichever is first.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- b.server.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close mqtt broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close mqtt broker: %w", ctx.Err())
	}
}

// authHook accepts clients presenting one of the configured credentials.
type authHook struct {
	mqtt.HookBase
	users []User
}

func (h *authHook) ID() string {
	return "mockhost-auth"
}

func (h *authHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

func (h *authHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	username := cl.Properties.Username
	password := pk.Connect.Password

	for _, u := range h.users {
		userOK := subtle.ConstantTimeCompare([]byte(u.Username), username) == 1
		passOK := subtle.ConstantTimeCompare([]byte(u.Password), password) == 1
		if userOK && passOK {
			return true
		}
	}
	return false
}

// OnACLCheck allows every topic to authenticated clients.
func (h *authHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	return true
}
