package mockserver

import "net/http"

// Permissive CORS values sent on every mock response.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	corsAllowHeaders = "*"
)

// setCORSHeaders allows any origin, the common methods and any request
// header.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

// applyHeaders sets each enabled header with a non-empty name and value.
// Later entries win over earlier ones and over the CORS defaults.
func applyHeaders(h http.Header, headers []Header) {
	for _, hdr := range headers {
		if !hdr.Enabled || hdr.Name == "" || hdr.Value == "" {
			continue
		}
		h.Set(hdr.Name, hdr.Value)
	}
}
