package requestlog

import (
	"time"

	"github.com/getmockd/mockhost/pkg/mockserver"
)

// Kind identifies what an Event reports.
type Kind string

// Event kinds.
const (
	KindRequest Kind = "request"
	KindStarted Kind = "started"
	KindStopped Kind = "stopped"
)

// Event is one notification from the hub.
type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	ServerID string    `json:"serverId"`
	Time     time.Time `json:"time"`

	// Log is set for KindRequest.
	Log *mockserver.RequestLog `json:"log,omitempty"`

	// Server is set for KindStarted.
	Server *mockserver.ServerInfo `json:"server,omitempty"`
}

// Filter selects events. The zero value matches everything.
type Filter struct {
	// ServerID restricts events to one server.
	ServerID string

	// RequestsOnly drops lifecycle events.
	RequestsOnly bool
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if f.ServerID != "" && ev.ServerID != f.ServerID {
		return false
	}
	if f.RequestsOnly && ev.Kind != KindRequest {
		return false
	}
	return true
}
