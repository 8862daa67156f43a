package mockserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/getmockd/mockhost/pkg/httputil"
	"github.com/getmockd/mockhost/pkg/logging"
)

// DefaultMaxBodySize is the request body limit (10MB). Larger bodies get a
// 413 response.
const DefaultMaxBodySize = 10 << 20

// Server owns one listener and answers requests from a fixed endpoint list.
type Server struct {
	cfg         *MockServer
	host        string
	maxBodySize int64
	emit        func(RequestLog)
	log         *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the operational logger.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEmitter sets the function that receives one RequestLog per request.
func WithEmitter(fn func(RequestLog)) ServerOption {
	return func(s *Server) {
		s.emit = fn
	}
}

// WithHost sets the bind host. Empty binds all interfaces.
func WithHost(host string) ServerOption {
	return func(s *Server) {
		s.host = host
	}
}

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

// NewServer creates a server for cfg. cfg must not be modified afterwards;
// the Manager passes a private copy.
func NewServer(cfg *MockServer, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		maxBodySize: DefaultMaxBodySize,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and serves in the background. It returns once the
// bind has succeeded or failed. A refused bind because the address is taken
// returns a *PortInUseError; other failures wrap ErrListener.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("%w: already listening on %s", ErrListener, s.listener.Addr())
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return classifyListenError(s.cfg.Port, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
	}
	done := make(chan struct{})

	s.httpServer = srv
	s.listener = ln
	s.done = done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("mock server stopped serving", "error", err)
		}
	}()

	s.log.Debug("listener bound", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and waits for in-flight requests to finish or for
// ctx to end. On a ctx error the listener stays closed and the server keeps
// its state so Stop can be retried; Close abandons the remaining requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return ErrNotListening
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("draining connections: %w", err)
	}
	<-s.done
	s.clear()
	return nil
}

// Close stops the server without draining: active connections are closed.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return ErrNotListening
	}
	err := s.httpServer.Close()
	<-s.done
	s.clear()
	return err
}

func (s *Server) clear() {
	s.httpServer = nil
	s.listener = nil
	s.done = nil
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 when not listening.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := requestTarget(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			w.Header().Set("Access-Control-Allow-Origin", corsAllowOrigin)
			httputil.WriteTooLarge(w, s.maxBodySize)
			s.record(start, r, target, nil, http.StatusRequestEntityTooLarge, "")
			return
		}
		// A broken body still gets an answer with whatever was read.
		s.log.Debug("reading request body", "error", err)
	}

	var status int
	var matchedID string
	ep, ok := MatchEndpoint(r.Method, target, s.cfg.Endpoints)
	switch {
	case ok:
		matchedID = ep.ID
		status = s.respond(w, r, ep)
	case r.Method == http.MethodOptions:
		setCORSHeaders(w.Header())
		w.WriteHeader(http.StatusNoContent)
		status = http.StatusNoContent
	default:
		status = writeNotFound(w, r.Method, target)
	}

	s.record(start, r, target, body, status, matchedID)
}

// respond waits out the endpoint delay and writes its response. OPTIONS
// requests get the headers with a 204 and no body.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, ep *MockEndpoint) int {
	if ep.Delay > 0 {
		if !sleep(r.Context(), time.Duration(ep.Delay)*time.Millisecond) {
			s.log.Debug("client went away during delay", "endpoint", ep.ID)
		}
	}

	h := w.Header()
	setCORSHeaders(h)
	applyHeaders(h, ep.ResponseHeaders)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}

	status := ep.Status()
	w.WriteHeader(status)
	if ep.ResponseBody != "" && r.Method != http.MethodHead {
		_, _ = io.WriteString(w, ep.ResponseBody)
	}
	return status
}

func writeNotFound(w http.ResponseWriter, method, target string) int {
	w.Header().Set("Access-Control-Allow-Origin", corsAllowOrigin)
	httputil.WritePrettyJSON(w, http.StatusNotFound, httputil.ErrorBody{
		Error:   "Not Found",
		Message: fmt.Sprintf("No mock endpoint configured for %s %s", method, target),
	})
	return http.StatusNotFound
}

func (s *Server) record(start time.Time, r *http.Request, target string, body []byte, status int, matchedID string) {
	if s.emit == nil {
		return
	}
	entry := RequestLog{
		Method:            r.Method,
		Path:              target,
		Headers:           flattenHeaders(r),
		ResponseStatus:    status,
		ResponseTime:      time.Since(start).Milliseconds(),
		Timestamp:         start,
		MatchedEndpointID: matchedID,
	}
	if len(body) > 0 {
		entry.Body = string(body)
	}
	s.emit(entry)
}

// requestTarget returns the request target as sent by the client. Absolute
// and asterisk forms are reduced to path and query.
func requestTarget(r *http.Request) string {
	if strings.HasPrefix(r.RequestURI, "/") {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// flattenHeaders joins repeated values with ", ". net/http moves Host out of
// the header map, so it is put back.
func flattenHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		out[name] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		out["Host"] = r.Host
	}
	return out
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
