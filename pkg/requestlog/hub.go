package requestlog

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/mockhost/pkg/mockserver"
)

// DefaultSubscriberBuffer is the channel size used when Subscribe gets a
// non-positive buffer.
const DefaultSubscriberBuffer = 64

type subscription struct {
	ch     chan Event
	filter Filter
}

// Hub keeps a bounded backlog of events and broadcasts new ones to
// subscribers.
type Hub struct {
	mu         sync.RWMutex
	backlog    []Event
	maxBacklog int
	nextID     uint64

	subMu       sync.RWMutex
	subscribers map[*subscription]struct{}

	dropped atomic.Uint64
}

var (
	_ mockserver.Observer          = (*Hub)(nil)
	_ mockserver.LifecycleObserver = (*Hub)(nil)
)

// NewHub creates a hub keeping at most backlog events. 0 keeps none.
func NewHub(backlog int) *Hub {
	if backlog < 0 {
		backlog = 0
	}
	return &Hub{
		backlog:     make([]Event, 0, min(backlog, 1024)),
		maxBacklog:  backlog,
		subscribers: make(map[*subscription]struct{}),
	}
}

// DeliverLog implements mockserver.Observer.
func (h *Hub) DeliverLog(serverID string, log mockserver.RequestLog) {
	h.Publish(Event{Kind: KindRequest, ServerID: serverID, Log: &log})
}

// ServerStarted implements mockserver.LifecycleObserver.
func (h *Hub) ServerStarted(info mockserver.ServerInfo) {
	h.Publish(Event{Kind: KindStarted, ServerID: info.ID, Server: &info})
}

// ServerStopped implements mockserver.LifecycleObserver.
func (h *Hub) ServerStopped(serverID string) {
	h.Publish(Event{Kind: KindStopped, ServerID: serverID})
}

// Publish assigns an id and time to ev, records it and broadcasts it.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	h.nextID++
	ev.ID = "evt-" + strconv.FormatUint(h.nextID, 36)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if h.maxBacklog > 0 {
		if len(h.backlog) >= h.maxBacklog {
			h.backlog = h.backlog[1:]
		}
		h.backlog = append(h.backlog, ev)
	}
	h.mu.Unlock()

	h.subMu.RLock()
	for sub := range h.subscribers {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	h.subMu.RUnlock()
}

// Subscribe returns a channel receiving future events that match f and a
// function that ends the subscription and closes the channel.
func (h *Hub) Subscribe(f Filter, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscription{ch: make(chan Event, buffer), filter: f}

	h.subMu.Lock()
	h.subscribers[sub] = struct{}{}
	h.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subscribers, sub)
			close(sub.ch)
			h.subMu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Recent returns backlog events matching f, newest first. limit <= 0 returns
// all of them.
func (h *Hub) Recent(f Filter, limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, 0, len(h.backlog))
	for i := len(h.backlog) - 1; i >= 0; i-- {
		if !f.Match(h.backlog[i]) {
			continue
		}
		out = append(out, h.backlog[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Count returns the number of events in the backlog.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.backlog)
}

// Clear empties the backlog.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = h.backlog[:0]
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many events were not delivered to slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
