package config

import (
	"fmt"
	"strings"
)

// Problem is one validation failure.
type Problem struct {
	// Path locates the value, e.g. "servers[0].endpoints[1].path".
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Path != "" {
		return fmt.Sprintf("%s: %s", p.Path, p.Message)
	}
	return p.Message
}

// ValidationError lists every problem found in a definition file.
type ValidationError struct {
	File     string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	prefix := "invalid server definitions"
	if e.File != "" {
		prefix += " in " + e.File
	}
	return prefix + ":\n  " + strings.Join(msgs, "\n  ")
}

// Is makes errors.Is(err, ErrInvalid) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// checkConflicts reports duplicate server ids, duplicate ports and duplicate
// endpoint ids within a server.
func checkConflicts(f *File) []Problem {
	var problems []Problem
	serverIDs := make(map[string]int)
	ports := make(map[int]int)

	for i, s := range f.Servers {
		path := fmt.Sprintf("servers[%d]", i)
		if s.ID != "" {
			if first, ok := serverIDs[s.ID]; ok {
				problems = append(problems, Problem{
					Path:    path + ".id",
					Message: fmt.Sprintf("duplicate server id %q (first used by servers[%d])", s.ID, first),
				})
			} else {
				serverIDs[s.ID] = i
			}
		}
		if first, ok := ports[s.Port]; ok {
			problems = append(problems, Problem{
				Path:    path + ".port",
				Message: fmt.Sprintf("port %d already used by servers[%d]", s.Port, first),
			})
		} else {
			ports[s.Port] = i
		}

		endpointIDs := make(map[string]struct{})
		for j, e := range s.Endpoints {
			if e.ID == "" {
				continue
			}
			if _, ok := endpointIDs[e.ID]; ok {
				problems = append(problems, Problem{
					Path:    fmt.Sprintf("%s.endpoints[%d].id", path, j),
					Message: fmt.Sprintf("duplicate endpoint id %q", e.ID),
				})
			}
			endpointIDs[e.ID] = struct{}{}
		}
	}
	return problems
}
