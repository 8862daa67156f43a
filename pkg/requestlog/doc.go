// Package requestlog fans request logs from mock servers out to live
// subscribers.
//
// Hub implements mockserver.Observer and mockserver.LifecycleObserver. Each
// delivery becomes an Event that is appended to a bounded in-memory backlog
// and sent to every matching subscriber without blocking; a subscriber that
// falls behind loses events rather than slowing mock traffic down.
//
//	hub := requestlog.NewHub(500)
//	manager.SetObserver(hub)
//
//	events, cancel := hub.Subscribe(requestlog.Filter{ServerID: "users-api"}, 64)
//	defer cancel()
//	for ev := range events {
//	    fmt.Println(ev.Log.Method, ev.Log.Path, ev.Log.ResponseStatus)
//	}
//
// The backlog is transient. Nothing is written to disk.
package requestlog
