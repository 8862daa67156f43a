package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getmockd/mockhost/pkg/mockserver"
)

const namespace = "mockhost"

// DurationBuckets covers immediate answers up to long simulated delays.
var DurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Collector holds the mockhost metrics in its own registry.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	UnmatchedRequests *prometheus.CounterVec
	ServersRunning    prometheus.Gauge
}

var (
	_ mockserver.Observer          = (*Collector)(nil)
	_ mockserver.LifecycleObserver = (*Collector)(nil)
)

// Option configures a Collector.
type Option func(*Collector)

// WithRuntimeMetrics also registers the Go runtime and process collectors.
func WithRuntimeMetrics() Option {
	return func(c *Collector) {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// NewCollector creates a collector with a fresh registry.
func NewCollector(opts ...Option) *Collector {
	r := prometheus.NewRegistry()
	c := &Collector{
		registry: r,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled by mock servers",
		}, []string{"server", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time to answer a mock request, simulated delay included",
			Buckets:   DurationBuckets,
		}, []string{"server"}),
		UnmatchedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_requests_total",
			Help:      "Requests that matched no endpoint and got a 404",
		}, []string{"server"}),
		ServersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers_running",
			Help:      "Mock servers currently running",
		}),
	}
	r.MustRegister(c.RequestsTotal, c.RequestDuration, c.UnmatchedRequests, c.ServersRunning)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// DeliverLog implements mockserver.Observer.
func (c *Collector) DeliverLog(serverID string, log mockserver.RequestLog) {
	c.RequestsTotal.WithLabelValues(serverID, methodLabel(log.Method), strconv.Itoa(log.ResponseStatus)).Inc()
	c.RequestDuration.WithLabelValues(serverID).Observe(float64(log.ResponseTime) / 1000)
	if log.ResponseStatus == http.StatusNotFound && log.MatchedEndpointID == "" {
		c.UnmatchedRequests.WithLabelValues(serverID).Inc()
	}
}

// ServerStarted implements mockserver.LifecycleObserver.
func (c *Collector) ServerStarted(mockserver.ServerInfo) {
	c.ServersRunning.Inc()
}

// ServerStopped implements mockserver.LifecycleObserver. Per-server series
// are removed so ids of stopped servers do not linger.
func (c *Collector) ServerStopped(serverID string) {
	c.ServersRunning.Dec()
	c.RequestsTotal.DeletePartialMatch(prometheus.Labels{"server": serverID})
	c.RequestDuration.DeleteLabelValues(serverID)
	c.UnmatchedRequests.DeleteLabelValues(serverID)
}

func methodLabel(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return m
	}
	return "OTHER"
}
