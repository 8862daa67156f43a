// Package control exposes a mockserver.Manager over HTTP.
//
// Routes:
//
//	GET    /health              liveness and counts
//	GET    /servers             running servers
//	POST   /servers             start a server (body: mockserver.MockServer)
//	GET    /servers/{id}        {"id": ..., "running": bool}
//	DELETE /servers/{id}        stop one server
//	DELETE /servers             stop every server
//	GET    /events              WebSocket stream of requestlog.Event
//	GET    /events/recent       backlog snapshot
//	GET    /metrics             Prometheus exposition
//
// Errors use the {"error": code, "message": text} shape of package httputil
// with the codes listed in errors.go.
package control
