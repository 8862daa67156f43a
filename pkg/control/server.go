package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getmockd/mockhost/pkg/logging"
	"github.com/getmockd/mockhost/pkg/mockserver"
	"github.com/getmockd/mockhost/pkg/requestlog"
)

// MaxRequestBodySize limits POST /servers bodies.
const MaxRequestBodySize = 10 << 20

// ServerManager is the part of mockserver.Manager the API drives.
type ServerManager interface {
	StartServer(ctx context.Context, cfg *mockserver.MockServer) (mockserver.ServerInfo, error)
	StopServer(ctx context.Context, id string) error
	StopAllServers(ctx context.Context)
	IsRunning(id string) bool
	Get(id string) (mockserver.ServerInfo, bool)
	Servers() []mockserver.ServerInfo
}

// EventSource provides the event stream, implemented by requestlog.Hub.
type EventSource interface {
	Subscribe(f requestlog.Filter, buffer int) (<-chan requestlog.Event, func())
	Recent(f requestlog.Filter, limit int) []requestlog.Event
}

// Server is the control API server.
type Server struct {
	manager ServerManager
	events  EventSource
	metrics http.Handler
	version string
	log     *slog.Logger

	startedAt time.Time
	handler   http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closing    chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEvents enables /events and /events/recent.
func WithEvents(src EventSource) Option {
	return func(s *Server) {
		s.events = src
	}
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a control API for manager.
func NewServer(manager ServerManager, opts ...Option) *Server {
	s := &Server{
		manager:   manager,
		log:       logging.Nop(),
		startedAt: time.Now(),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.withMiddleware(mux)
	return s
}

// Handler returns the API handler, for tests or embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("control API already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("control API listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.listener = ln

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control API server error", "error", err)
		}
	}()

	s.log.Info("control API listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop ends event streams and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closing:
	default:
		close(s.closing)
	}
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.listener = nil
	return err
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /servers", s.handleListServers)
	mux.HandleFunc("POST /servers", s.handleStartServer)
	mux.HandleFunc("DELETE /servers", s.handleStopAll)
	mux.HandleFunc("GET /servers/{id}", s.handleServerStatus)
	mux.HandleFunc("DELETE /servers/{id}", s.handleStopServer)

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/recent", s.handleRecentEvents)

	mux.HandleFunc("GET /metrics", s.handleMetrics)
}
