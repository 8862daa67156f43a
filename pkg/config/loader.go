package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/getmockd/mockhost/pkg/mockserver"
)

// Errors returned when loading or saving definition files.
var (
	ErrFileNotFound      = errors.New("definition file not found")
	ErrEmptyFile         = errors.New("definition file is empty")
	ErrUnsupportedFormat = errors.New("unsupported definition file format")
	ErrSyntax            = errors.New("invalid definition file syntax")
	ErrInvalid           = errors.New("invalid server definitions")
)

// Format is a definition file encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q (use .yaml, .yml or .json)", ErrUnsupportedFormat, filepath.Ext(path))
}

// LoadFile reads, validates and converts a definition file.
func LoadFile(path string) ([]*mockserver.MockServer, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	servers, err := Parse(data, format)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.File = path
		}
		return nil, err
	}
	return servers, nil
}

// Parse decodes and validates definitions in the given format.
// Validation failures are returned as *ValidationError.
func Parse(data []byte, format Format) ([]*mockserver.MockServer, error) {
	f, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	servers := make([]*mockserver.MockServer, 0, len(f.Servers))
	for i := range f.Servers {
		servers = append(servers, f.Servers[i].ToMockServer())
	}
	return servers, nil
}

// decode normalizes the document to JSON, validates it against the schema
// and the conflict rules, and decodes it into a File.
func decode(data []byte, format Format) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	var doc []byte
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			var v any
			err := json.Unmarshal(data, &v)
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		doc = data
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		var err error
		if doc, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	problems, err := validateSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	var f File
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	if problems := checkConflicts(&f); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return &f, nil
}

// Validate checks a definition file without converting it.
func Validate(path string) error {
	_, err := LoadFile(path)
	return err
}

// Marshal encodes servers in the given format.
func Marshal(servers []*mockserver.MockServer, format Format) ([]byte, error) {
	f := File{Servers: make([]ServerDef, 0, len(servers))}
	for _, s := range servers {
		f.Servers = append(f.Servers, FromMockServer(s))
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// SaveFile writes servers to path, choosing the format from the extension.
// The file is replaced atomically.
func SaveFile(path string, servers []*mockserver.MockServer) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Marshal(servers, format)
	if err != nil {
		return fmt.Errorf("encoding definitions: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mockhost-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
