package cliconfig

import (
	"net"
	"strconv"
)

// Defaults.
const (
	DefaultAdminHost       = "127.0.0.1"
	DefaultAdminPort       = 4290
	DefaultShutdownTimeout = 30
	DefaultEventBacklog    = 1000
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultMQTTTopicPrefix = "mockhost"
)

// NewDefault returns a Config holding only default values.
func NewDefault() *Config {
	cfg := &Config{
		AdminHost:       DefaultAdminHost,
		AdminPort:       DefaultAdminPort,
		ShutdownTimeout: DefaultShutdownTimeout,
		EventBacklog:    DefaultEventBacklog,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		MQTTTopicPrefix: DefaultMQTTTopicPrefix,
		Sources:         make(map[string]string),
	}
	for _, key := range []string{
		"adminHost", "adminPort", "shutdownTimeout", "eventBacklog",
		"logLevel", "logFormat", "mqttTopicPrefix",
	} {
		cfg.Sources[key] = SourceDefault
	}
	return cfg
}

// DefaultAdminURL returns the control API URL for a host and port.
func DefaultAdminURL(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = DefaultAdminPort
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// ResolvedAdminURL returns AdminURL, or the URL derived from AdminHost and
// AdminPort when it is unset.
func (c *Config) ResolvedAdminURL() string {
	if c.AdminURL != "" {
		return c.AdminURL
	}
	return DefaultAdminURL(c.AdminHost, c.AdminPort)
}

// AdminAddr returns the listen address of the control API.
func (c *Config) AdminAddr() string {
	return net.JoinHostPort(c.AdminHost, strconv.Itoa(c.AdminPort))
}
