package mockserver

// Observer receives request logs from every running server.
// DeliverLog is called from request goroutines and must not block for long.
type Observer interface {
	DeliverLog(serverID string, log RequestLog)
}

// LifecycleObserver is implemented by observers that also want start and
// stop acknowledgements.
type LifecycleObserver interface {
	ServerStarted(info ServerInfo)
	ServerStopped(serverID string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(serverID string, log RequestLog)

// DeliverLog calls f.
func (f ObserverFunc) DeliverLog(serverID string, log RequestLog) {
	f(serverID, log)
}

// MultiObserver fans out to several observers in order. Nil entries are
// skipped. A panicking entry does not stop delivery to the rest; the first
// panic is raised again once every entry has been called.
type MultiObserver []Observer

// DeliverLog delivers to each observer.
func (m MultiObserver) DeliverLog(serverID string, log RequestLog) {
	m.each(func(o Observer) {
		o.DeliverLog(serverID, log)
	})
}

// ServerStarted forwards to each observer implementing LifecycleObserver.
func (m MultiObserver) ServerStarted(info ServerInfo) {
	m.each(func(o Observer) {
		if lo, ok := o.(LifecycleObserver); ok {
			lo.ServerStarted(info)
		}
	})
}

// ServerStopped forwards to each observer implementing LifecycleObserver.
func (m MultiObserver) ServerStopped(serverID string) {
	m.each(func(o Observer) {
		if lo, ok := o.(LifecycleObserver); ok {
			lo.ServerStopped(serverID)
		}
	})
}

func (m MultiObserver) each(fn func(Observer)) {
	var first any
	for _, o := range m {
		if o == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil && first == nil {
					first = r
				}
			}()
			fn(o)
		}()
	}
	if first != nil {
		panic(first)
	}
}
