package mockserver

import "strings"

// ParamPrefix marks a path pattern segment as a parameter.
const ParamPrefix = ':'

// CleanPath drops the query string (everything from the first '?').
// An empty result becomes "/".
func CleanPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	return path
}

// MatchPath reports whether a cleaned request path matches pattern.
// Both are split on "/" and must have the same number of segments. A pattern
// segment starting with ParamPrefix matches any non-empty segment; other
// segments must be identical.
func MatchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	ps := strings.Split(pattern, "/")
	rs := strings.Split(path, "/")
	if len(ps) != len(rs) {
		return false
	}
	for i, seg := range ps {
		if seg != "" && seg[0] == ParamPrefix {
			if rs[i] == "" {
				return false
			}
			continue
		}
		if seg != rs[i] {
			return false
		}
	}
	return true
}

// MatchEndpoint returns the first enabled endpoint whose method equals method
// (case-sensitive) and whose pattern matches path. path may carry a query
// string. The returned pointer refers into endpoints.
func MatchEndpoint(method, path string, endpoints []MockEndpoint) (*MockEndpoint, bool) {
	clean := CleanPath(path)
	for i := range endpoints {
		ep := &endpoints[i]
		if !ep.Enabled || ep.Method != method {
			continue
		}
		if MatchPath(ep.Path, clean) {
			return ep, true
		}
	}
	return nil, false
}
