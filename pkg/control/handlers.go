package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/getmockd/mockhost/pkg/httputil"
	"github.com/getmockd/mockhost/pkg/mockserver"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Servers int    `json:"servers"`
	Uptime  int64  `json:"uptimeSeconds"`
}

// ServerStatus is the body of GET /servers/{id}.
type ServerStatus struct {
	ID      string                 `json:"id"`
	Running bool                   `json:"running"`
	Server  *mockserver.ServerInfo `json:"server,omitempty"`
}

// ServerList is the body of GET /servers.
type ServerList struct {
	Servers []mockserver.ServerInfo `json:"servers"`
	Total   int                     `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Servers: len(s.manager.Servers()),
		Uptime:  int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers := s.manager.Servers()
	if servers == nil {
		servers = []mockserver.ServerInfo{}
	}
	httputil.WriteOK(w, ServerList{Servers: servers, Total: len(servers)})
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	var cfg mockserver.MockServer
	if err := httputil.DecodeJSON(w, r, MaxRequestBodySize, &cfg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteTooLarge(w, tooLarge.Limit)
			return
		}
		httputil.WriteBadRequest(w, CodeInvalidBody, err.Error())
		return
	}

	// Binding is quick; a client hanging up mid-start should not leave the
	// server half registered.
	info, err := s.manager.StartServer(context.WithoutCancel(r.Context()), &cfg)
	if err != nil {
		s.log.Debug("start rejected", "serverID", cfg.ID, "error", err)
		writeManagerError(w, err)
		return
	}
	httputil.WriteCreated(w, info)
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := ServerStatus{ID: id}
	if info, ok := s.manager.Get(id); ok {
		status.Running = true
		status.Server = &info
	}
	httputil.WriteOK(w, status)
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.StopServer(context.WithoutCancel(r.Context()), id); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	s.manager.StopAllServers(context.WithoutCancel(r.Context()))
	httputil.WriteNoContent(w)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		httputil.WriteNotFound(w, "metrics_disabled", "metrics are not enabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}
