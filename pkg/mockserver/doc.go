// Package mockserver runs user-defined mock HTTP servers inside one process.
//
// A MockServer is a port plus an ordered list of MockEndpoint rules. The
// Manager owns the set of running servers keyed by id: StartServer binds a
// listener and returns once the bind is confirmed, StopServer drains
// in-flight requests before deregistering, StopAllServers stops everything
// concurrently and never fails.
//
// Each handled request produces a RequestLog which the Manager hands to the
// registered Observer, tagged with the server id. Delivery is best-effort:
// with no observer registered, logs are dropped.
//
// Endpoint selection is first-match in definition order. Path patterns are
// split on "/" and compared segment by segment; a segment starting with ':'
// matches any non-empty value:
//
//	ep, ok := mockserver.MatchEndpoint("GET", "/users/42?x=1", endpoints)
package mockserver
