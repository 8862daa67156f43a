package mockserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/mockhost/pkg/logging"
)

// DefaultDrainTimeout bounds how long a stop waits for in-flight requests.
const DefaultDrainTimeout = 30 * time.Second

type serverState int

const (
	stateStarting serverState = iota
	stateRunning
	stateStopping
)

func (s serverState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	default:
		return "stopping"
	}
}

type managedServer struct {
	server *Server
	info   ServerInfo
	state  serverState
}

// observerBox lets an interface value live in an atomic.Pointer.
type observerBox struct {
	o Observer
}

// Manager is the registry of running mock servers. It is safe for
// concurrent use; operations on the same id are serialized, operations on
// different ids run independently.
type Manager struct {
	mu      sync.Mutex
	servers map[string]*managedServer

	observer atomic.Pointer[observerBox]

	host         string
	drainTimeout time.Duration
	maxBodySize  int64
	log          *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithDrainTimeout bounds each stop. Zero or negative keeps the default.
func WithDrainTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.drainTimeout = d
		}
	}
}

// WithBindHost sets the host mock servers bind to. Empty binds all
// interfaces.
func WithBindHost(host string) ManagerOption {
	return func(m *Manager) {
		m.host = host
	}
}

// WithRequestBodyLimit overrides DefaultMaxBodySize for every server.
func WithRequestBodyLimit(n int64) ManagerOption {
	return func(m *Manager) {
		m.maxBodySize = n
	}
}

// WithObserver registers an initial observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.SetObserver(o)
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		servers:      make(map[string]*managedServer),
		drainTimeout: DefaultDrainTimeout,
		maxBodySize:  DefaultMaxBodySize,
		log:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetObserver replaces the observer. nil removes it; logs are then dropped.
// Logs already being delivered may still reach the previous observer.
func (m *Manager) SetObserver(o Observer) {
	if o == nil {
		m.observer.Store(nil)
		return
	}
	m.observer.Store(&observerBox{o: o})
}

// StartServer binds a new server for cfg and registers it under cfg.ID. It
// returns once the listener is bound. cfg is copied, so later changes to it
// do not affect the running server.
//
// Errors: ErrInvalidConfig, ErrAlreadyRunning, ErrBusy when a start or stop
// for the same id is in flight, *PortInUseError (matches ErrPortInUse) and
// ErrListener. On error nothing is registered or bound.
func (m *Manager) StartServer(ctx context.Context, cfg *MockServer) (ServerInfo, error) {
	if cfg == nil {
		return ServerInfo{}, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return ServerInfo{}, err
	}
	c := cfg.Clone()

	m.mu.Lock()
	if existing, ok := m.servers[c.ID]; ok {
		m.mu.Unlock()
		if existing.state == stateRunning {
			return ServerInfo{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, c.ID)
		}
		return ServerInfo{}, fmt.Errorf("%w: %s is %s", ErrBusy, c.ID, existing.state)
	}
	if c.Port != 0 {
		for id, other := range m.servers {
			if other.info.Port == c.Port {
				m.mu.Unlock()
				return ServerInfo{}, &PortInUseError{
					Port: c.Port,
					Err:  fmt.Errorf("held by mock server %q", id),
				}
			}
		}
	}

	log := m.log.With("server", c.ID)
	srv := NewServer(c,
		WithServerLogger(log),
		WithHost(m.host),
		WithMaxBodySize(m.maxBodySize),
		WithEmitter(func(entry RequestLog) { m.deliver(c.ID, entry) }),
	)
	ms := &managedServer{
		server: srv,
		state:  stateStarting,
		info: ServerInfo{
			ID:        c.ID,
			Name:      c.Name,
			Port:      c.Port,
			Endpoints: len(c.Endpoints),
		},
	}
	m.servers[c.ID] = ms
	m.mu.Unlock()

	if err := srv.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.servers, c.ID)
		m.mu.Unlock()
		log.Warn("mock server failed to start", "port", c.Port, "error", err)
		return ServerInfo{}, err
	}

	m.mu.Lock()
	ms.state = stateRunning
	ms.info.Port = srv.Port()
	ms.info.Addr = srv.Addr()
	ms.info.StartedAt = time.Now()
	info := ms.info
	m.mu.Unlock()

	log.Info("mock server started", "name", c.DisplayName(), "addr", info.Addr, "endpoints", info.Endpoints)
	m.notifyStarted(info)
	return info, nil
}

// StopServer stops the server registered under id, waiting for in-flight
// requests up to the drain timeout, then deregisters it.
//
// Errors: ErrNotRunning, ErrBusy, or a drain failure. After a failed drain
// the server stays registered with its listener closed; calling StopServer
// again resumes draining.
func (m *Manager) StopServer(ctx context.Context, id string) error {
	ms, err := m.beginStop(id)
	if err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, m.drainTimeout)
	defer cancel()

	if err := ms.server.Stop(dctx); err != nil {
		m.mu.Lock()
		ms.state = stateRunning
		m.mu.Unlock()
		return fmt.Errorf("stopping mock server %s: %w", id, err)
	}

	m.finishStop(id, ms)
	m.log.Info("mock server stopped", "server", id)
	return nil
}

func (m *Manager) beginStop(id string) (*managedServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if ms.state != stateRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrBusy, id, ms.state)
	}
	ms.state = stateStopping
	return ms, nil
}

// finishStop deregisters ms if it is still the entry for id and notifies
// the observer once.
func (m *Manager) finishStop(id string, ms *managedServer) {
	m.mu.Lock()
	current, ok := m.servers[id]
	removed := ok && current == ms
	if removed {
		delete(m.servers, id)
	}
	m.mu.Unlock()

	if removed {
		m.notifyStopped(id)
	}
}

// StopAllServers stops every running server concurrently. A server that does
// not drain in time is closed forcibly; failures are logged and never stop
// the others. When it returns, every server that was running is
// deregistered.
func (m *Manager) StopAllServers(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for id, ms := range m.servers {
		if ms.state != stateStarting {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			m.stopOrClose(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	if len(ids) > 0 {
		m.log.Info("stopped all mock servers", "count", len(ids))
	}
}

func (m *Manager) stopOrClose(ctx context.Context, id string) {
	err := m.StopServer(ctx, id)
	if err == nil || errors.Is(err, ErrNotRunning) {
		return
	}
	m.log.Warn("mock server did not stop cleanly, closing", "server", id, "error", err)

	m.mu.Lock()
	ms, ok := m.servers[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	if cerr := ms.server.Close(); cerr != nil && !errors.Is(cerr, ErrNotListening) {
		m.log.Warn("closing mock server", "server", id, "error", cerr)
	}
	m.finishStop(id, ms)
}

// IsRunning reports whether a server is registered under id.
func (m *Manager) IsRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.servers[id]
	return ok && ms.state != stateStarting
}

// Get returns the info of the server registered under id.
func (m *Manager) Get(id string) (ServerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.servers[id]
	if !ok || ms.state == stateStarting {
		return ServerInfo{}, false
	}
	return ms.info, true
}

// Servers lists the registered servers sorted by id.
func (m *Manager) Servers() []ServerInfo {
	m.mu.Lock()
	out := make([]ServerInfo, 0, len(m.servers))
	for _, ms := range m.servers {
		if ms.state != stateStarting {
			out = append(out, ms.info)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) deliver(serverID string, entry RequestLog) {
	box := m.observer.Load()
	if box == nil {
		return
	}
	defer m.recoverObserver(serverID)
	box.o.DeliverLog(serverID, entry)
}

func (m *Manager) notifyStarted(info ServerInfo) {
	box := m.observer.Load()
	if box == nil {
		return
	}
	if lo, ok := box.o.(LifecycleObserver); ok {
		defer m.recoverObserver(info.ID)
		lo.ServerStarted(info)
	}
}

func (m *Manager) notifyStopped(id string) {
	box := m.observer.Load()
	if box == nil {
		return
	}
	if lo, ok := box.o.(LifecycleObserver); ok {
		defer m.recoverObserver(id)
		lo.ServerStopped(id)
	}
}

func (m *Manager) recoverObserver(serverID string) {
	if r := recover(); r != nil {
		m.log.Warn("observer panicked", "server", serverID, "panic", r)
	}
}
