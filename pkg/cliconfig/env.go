package cliconfig

import (
	"errors"
	"fmt"
	"strconv"
)

// Environment variable names.
const (
	EnvAdminHost       = "MOCKHOST_ADMIN_HOST"
	EnvAdminPort       = "MOCKHOST_ADMIN_PORT"
	EnvAdminURL        = "MOCKHOST_ADMIN_URL"
	EnvServersFile     = "MOCKHOST_SERVERS_FILE"
	EnvBindHost        = "MOCKHOST_BIND_HOST"
	EnvShutdownTimeout = "MOCKHOST_SHUTDOWN_TIMEOUT"
	EnvEventBacklog    = "MOCKHOST_EVENT_BACKLOG"
	EnvLogLevel        = "MOCKHOST_LOG_LEVEL"
	EnvLogFormat       = "MOCKHOST_LOG_FORMAT"
	EnvMQTTBroker      = "MOCKHOST_MQTT_BROKER"
	EnvMQTTListen      = "MOCKHOST_MQTT_LISTEN"
	EnvMQTTTopicPrefix = "MOCKHOST_MQTT_TOPIC_PREFIX"
	EnvMQTTClientID    = "MOCKHOST_MQTT_CLIENT_ID"
)

type envBinding struct {
	env string
	key string
	str *string
	num *int
}

func envBindings(cfg *Config) []envBinding {
	return []envBinding{
		{env: EnvAdminHost, key: "adminHost", str: &cfg.AdminHost},
		{env: EnvAdminPort, key: "adminPort", num: &cfg.AdminPort},
		{env: EnvAdminURL, key: "adminUrl", str: &cfg.AdminURL},
		{env: EnvServersFile, key: "serversFile", str: &cfg.ServersFile},
		{env: EnvBindHost, key: "bindHost", str: &cfg.BindHost},
		{env: EnvShutdownTimeout, key: "shutdownTimeout", num: &cfg.ShutdownTimeout},
		{env: EnvEventBacklog, key: "eventBacklog", num: &cfg.EventBacklog},
		{env: EnvLogLevel, key: "logLevel", str: &cfg.LogLevel},
		{env: EnvLogFormat, key: "logFormat", str: &cfg.LogFormat},
		{env: EnvMQTTBroker, key: "mqttBroker", str: &cfg.MQTTBroker},
		{env: EnvMQTTListen, key: "mqttListen", str: &cfg.MQTTListen},
		{env: EnvMQTTTopicPrefix, key: "mqttTopicPrefix", str: &cfg.MQTTTopicPrefix},
		{env: EnvMQTTClientID, key: "mqttClientId", str: &cfg.MQTTClientID},
	}
}

// LoadEnvConfig applies MOCKHOST_* variables that are set and non-empty.
// Malformed numbers are reported together.
func LoadEnvConfig(cfg *Config, getenv func(string) string) error {
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}

	var errs []error
	for _, b := range envBindings(cfg) {
		v := getenv(b.env)
		if v == "" {
			continue
		}
		if b.num != nil {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", b.env, v))
				continue
			}
			*b.num = n
		} else {
			*b.str = v
		}
		cfg.Sources[b.key] = SourceEnv
	}
	return errors.Join(errs...)
}
