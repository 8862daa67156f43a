package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/getmockd/mockhost/pkg/logging"
)

// GlobalConfigDir is the directory under the user config dir.
const GlobalConfigDir = "mockhost"

// LocalConfigFileNames are the names searched in the working directory.
var LocalConfigFileNames = []string{".mockhostrc.yaml", ".mockhostrc.yml"}

// GlobalConfigFileNames are the names searched in the global directory.
var GlobalConfigFileNames = []string{"config.yaml", "config.yml"}

// ConfigError is a configuration file error.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Path + ": " + e.Message
}

// findIn returns the first existing file among names in dir, or "".
func findIn(dir string, names []string) string {
	if dir == "" {
		return ""
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// FindLocalConfig looks for .mockhostrc.yaml in the working directory.
// It returns "" when there is none.
func FindLocalConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findIn(cwd, LocalConfigFileNames)
}

// GlobalDir returns <user config dir>/mockhost, or "" when the user config
// dir is unknown.
func GlobalDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, GlobalConfigDir)
}

// FindGlobalConfig returns the global config file path, or "".
func FindGlobalConfig() string {
	return findIn(GlobalDir(), GlobalConfigFileNames)
}

// LoadConfigFile reads a YAML config file and records which keys it sets.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}

	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	cfg.SetFields = make(map[string]bool, len(keys))
	for k := range keys {
		cfg.SetFields[k] = true
	}
	cfg.Sources = make(map[string]string)
	return &cfg, nil
}

// Dirs tells LoadFrom where to look. Empty dirs are skipped.
type Dirs struct {
	Local  string
	Global string
}

// LoadAll loads defaults, the global and local files and the process
// environment.
func LoadAll() (*Config, error) {
	cwd, _ := os.Getwd()
	return LoadFrom(Dirs{Local: cwd, Global: GlobalDir()}, os.Getenv)
}

// LoadFrom is LoadAll with explicit directories and environment lookup.
// A broken config file is an error; a missing one is not.
func LoadFrom(dirs Dirs, getenv func(string) string) (*Config, error) {
	cfg := NewDefault()

	layers := []struct {
		path   string
		source string
	}{
		{findIn(dirs.Global, GlobalConfigFileNames), SourceGlobal},
		{findIn(dirs.Local, LocalConfigFileNames), SourceLocal},
	}
	for _, layer := range layers {
		if layer.path == "" {
			continue
		}
		fileCfg, err := LoadConfigFile(layer.path)
		if err != nil {
			return nil, fmt.Errorf("loading %s config: %w", layer.source, err)
		}
		MergeConfig(cfg, fileCfg, layer.source)
	}

	if err := LoadEnvConfig(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate range-checks the settings.
func (c *Config) Validate() error {
	var errs []error
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("adminPort %d out of range 1-65535", c.AdminPort))
	}
	if c.ShutdownTimeout < 1 {
		errs = append(errs, fmt.Errorf("shutdownTimeout must be at least 1 second, got %d", c.ShutdownTimeout))
	}
	if c.EventBacklog < 0 {
		errs = append(errs, fmt.Errorf("eventBacklog must not be negative, got %d", c.EventBacklog))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown logLevel %q", c.LogLevel))
	}
	if !logging.ValidFormat(c.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown logFormat %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
