// Package metrics exports mock server activity in the Prometheus format.
//
// Collector is a mockserver observer: every request log increments
// mockhost_requests_total and feeds mockhost_request_duration_seconds, and
// start/stop acknowledgements drive mockhost_servers_running. The control API
// serves Collector.Handler() at /metrics.
//
// # Metrics
//
//   - mockhost_requests_total{server,method,status}: counter
//   - mockhost_request_duration_seconds{server}: histogram, delay included
//   - mockhost_unmatched_requests_total{server}: counter of 404 answers
//   - mockhost_servers_running: gauge
//
// Status labels are the numeric HTTP code as a string. Method labels are
// the request method as sent; unusual methods are grouped under "OTHER" to
// keep cardinality bounded.
package metrics
