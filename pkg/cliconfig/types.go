// Package cliconfig loads the host settings used by the mockhost command.
package cliconfig

// Config holds the host settings. Values come from several sources with the
// following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (MOCKHOST_*)
//  3. Local config file (.mockhostrc.yaml in the working directory)
//  4. Global config file (<user config dir>/mockhost/config.yaml)
//  5. Default values (lowest priority)
type Config struct {
	// Control API
	AdminHost string `yaml:"adminHost" json:"adminHost"`
	AdminPort int    `yaml:"adminPort" json:"adminPort"`
	AdminURL  string `yaml:"adminUrl,omitempty" json:"adminUrl,omitempty"`

	// Mock servers
	ServersFile     string `yaml:"serversFile,omitempty" json:"serversFile,omitempty"`
	BindHost        string `yaml:"bindHost,omitempty" json:"bindHost,omitempty"`
	ShutdownTimeout int    `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	EventBacklog    int    `yaml:"eventBacklog" json:"eventBacklog"`

	// Logging
	LogLevel  string `yaml:"logLevel" json:"logLevel"`
	LogFormat string `yaml:"logFormat" json:"logFormat"`

	// MQTT forwarding; disabled when MQTTBroker and MQTTListen are empty.
	// MQTTListen runs an embedded broker on that address.
	MQTTBroker      string `yaml:"mqttBroker,omitempty" json:"mqttBroker,omitempty"`
	MQTTListen      string `yaml:"mqttListen,omitempty" json:"mqttListen,omitempty"`
	MQTTTopicPrefix string `yaml:"mqttTopicPrefix,omitempty" json:"mqttTopicPrefix,omitempty"`
	MQTTClientID    string `yaml:"mqttClientId,omitempty" json:"mqttClientId,omitempty"`

	// Sources tracks where each value came from, keyed by YAML name.
	Sources map[string]string `yaml:"-" json:"-"`

	// SetFields records which keys were present in a loaded file, so an
	// explicit zero or empty value can override a lower layer.
	SetFields map[string]bool `yaml:"-" json:"-"`
}

// Config sources.
const (
	SourceDefault = "default"
	SourceEnv     = "env"
	SourceGlobal  = "global"
	SourceLocal   = "local"
	SourceFlag    = "flag"
)
