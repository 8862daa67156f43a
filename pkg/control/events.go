package control

import (
	"context"
	"net/http"
	"strconv"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/getmockd/mockhost/pkg/httputil"
	"github.com/getmockd/mockhost/pkg/requestlog"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 5 * time.Second
	defaultRecentLimit = 100
)

// RecentEvents is the body of GET /events/recent.
type RecentEvents struct {
	Events []requestlog.Event `json:"events"`
	Total  int                `json:"total"`
}

func eventFilter(r *http.Request) requestlog.Filter {
	q := r.URL.Query()
	return requestlog.Filter{
		ServerID:     q.Get("server"),
		RequestsOnly: q.Get("requests") == "true",
	}
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		httputil.WriteNotFound(w, CodeEventsDisabled, "event stream is not enabled")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events := s.events.Recent(eventFilter(r), limit)
	httputil.WriteOK(w, RecentEvents{Events: events, Total: len(events)})
}

// handleEvents upgrades to a WebSocket and streams matching events as JSON
// text frames until the peer goes away or the API stops. With backlog=true
// the retained events are replayed oldest first before live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		httputil.WriteNotFound(w, CodeEventsDisabled, "event stream is not enabled")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    ws.CompressionDisabled,
	})
	if err != nil {
		s.log.Debug("event stream upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Incoming frames are discarded; ctx ends when the peer closes.
	ctx := conn.CloseRead(r.Context())

	filter := eventFilter(r)
	live, cancel := s.events.Subscribe(filter, streamBuffer)
	defer cancel()

	// Subscribe before reading the backlog so nothing falls in between;
	// events seen in both are sent once.
	var replayed map[string]struct{}
	if r.URL.Query().Get("backlog") == "true" {
		recent := s.events.Recent(filter, 0)
		replayed = make(map[string]struct{}, len(recent))
		for i := len(recent) - 1; i >= 0; i-- {
			if err := s.writeEvent(ctx, conn, recent[i]); err != nil {
				return
			}
			replayed[recent[i].ID] = struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			_ = conn.Close(ws.StatusGoingAway, "control API shutting down")
			return
		case ev, ok := <-live:
			if !ok {
				_ = conn.Close(ws.StatusGoingAway, "")
				return
			}
			if _, dup := replayed[ev.ID]; dup {
				continue
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				s.log.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *ws.Conn, ev requestlog.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
