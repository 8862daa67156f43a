package config

import (
	"github.com/getmockd/mockhost/internal/id"
	"github.com/getmockd/mockhost/pkg/mockserver"
)

// File is the top-level document of a definition file.
type File struct {
	Servers []ServerDef `json:"servers" yaml:"servers"`
}

// ServerDef is a server as written in a file.
type ServerDef struct {
	ID             string        `json:"id,omitempty" yaml:"id,omitempty"`
	Name           string        `json:"name,omitempty" yaml:"name,omitempty"`
	Port           int           `json:"port" yaml:"port"`
	MaxConnections int           `json:"maxConnections,omitempty" yaml:"maxConnections,omitempty"`
	Endpoints      []EndpointDef `json:"endpoints" yaml:"endpoints"`
}

// EndpointDef is an endpoint as written in a file. Enabled is a pointer so an
// absent flag can default to true.
type EndpointDef struct {
	ID              string      `json:"id,omitempty" yaml:"id,omitempty"`
	Method          string      `json:"method" yaml:"method"`
	Path            string      `json:"path" yaml:"path"`
	Enabled         *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	StatusCode      int         `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	ResponseHeaders []HeaderDef `json:"responseHeaders,omitempty" yaml:"responseHeaders,omitempty"`
	ResponseBody    string      `json:"responseBody,omitempty" yaml:"responseBody,omitempty"`
	Delay           int         `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// HeaderDef is a response header as written in a file.
type HeaderDef struct {
	Name    string `json:"name" yaml:"name"`
	Value   string `json:"value" yaml:"value"`
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// ToMockServer converts the definition, filling in defaults.
func (d *ServerDef) ToMockServer() *mockserver.MockServer {
	s := &mockserver.MockServer{
		ID:             d.ID,
		Name:           d.Name,
		Port:           d.Port,
		MaxConnections: d.MaxConnections,
		Endpoints:      make([]mockserver.MockEndpoint, 0, len(d.Endpoints)),
	}
	if s.ID == "" {
		s.ID = id.Prefixed("srv")
	}
	for _, e := range d.Endpoints {
		ep := mockserver.MockEndpoint{
			ID:           e.ID,
			Method:       e.Method,
			Path:         e.Path,
			Enabled:      boolOr(e.Enabled, true),
			StatusCode:   e.StatusCode,
			ResponseBody: e.ResponseBody,
			Delay:        e.Delay,
		}
		if ep.ID == "" {
			ep.ID = id.Short()
		}
		for _, h := range e.ResponseHeaders {
			ep.ResponseHeaders = append(ep.ResponseHeaders, mockserver.Header{
				Name:    h.Name,
				Value:   h.Value,
				Enabled: boolOr(h.Enabled, true),
			})
		}
		s.Endpoints = append(s.Endpoints, ep)
	}
	return s
}

// FromMockServer converts a running configuration back to its file form.
// Flags are always written explicitly.
func FromMockServer(s *mockserver.MockServer) ServerDef {
	d := ServerDef{
		ID:             s.ID,
		Name:           s.Name,
		Port:           s.Port,
		MaxConnections: s.MaxConnections,
		Endpoints:      make([]EndpointDef, 0, len(s.Endpoints)),
	}
	for _, ep := range s.Endpoints {
		e := EndpointDef{
			ID:           ep.ID,
			Method:       ep.Method,
			Path:         ep.Path,
			Enabled:      ptr(ep.Enabled),
			StatusCode:   ep.StatusCode,
			ResponseBody: ep.ResponseBody,
			Delay:        ep.Delay,
		}
		for _, h := range ep.ResponseHeaders {
			e.ResponseHeaders = append(e.ResponseHeaders, HeaderDef{Name: h.Name, Value: h.Value, Enabled: ptr(h.Enabled)})
		}
		d.Endpoints = append(d.Endpoints, e)
	}
	return d
}

func ptr[T any](v T) *T { return &v }
