package cliconfig

// MergeConfig applies values from source onto target and records their
// source. When source.SetFields is set (file-loaded configs), every key
// present in the file is applied, zero values included; otherwise only
// non-zero values are.
func MergeConfig(target, source *Config, sourceType string) {
	if source == nil {
		return
	}
	if target.Sources == nil {
		target.Sources = make(map[string]string)
	}

	mergeString(target, source, "adminHost", &target.AdminHost, source.AdminHost, sourceType)
	mergeInt(target, source, "adminPort", &target.AdminPort, source.AdminPort, sourceType)
	mergeString(target, source, "adminUrl", &target.AdminURL, source.AdminURL, sourceType)
	mergeString(target, source, "serversFile", &target.ServersFile, source.ServersFile, sourceType)
	mergeString(target, source, "bindHost", &target.BindHost, source.BindHost, sourceType)
	mergeInt(target, source, "shutdownTimeout", &target.ShutdownTimeout, source.ShutdownTimeout, sourceType)
	mergeInt(target, source, "eventBacklog", &target.EventBacklog, source.EventBacklog, sourceType)
	mergeString(target, source, "logLevel", &target.LogLevel, source.LogLevel, sourceType)
	mergeString(target, source, "logFormat", &target.LogFormat, source.LogFormat, sourceType)
	mergeString(target, source, "mqttBroker", &target.MQTTBroker, source.MQTTBroker, sourceType)
	mergeString(target, source, "mqttListen", &target.MQTTListen, source.MQTTListen, sourceType)
	mergeString(target, source, "mqttTopicPrefix", &target.MQTTTopicPrefix, source.MQTTTopicPrefix, sourceType)
	mergeString(target, source, "mqttClientId", &target.MQTTClientID, source.MQTTClientID, sourceType)
}

func isSet(source *Config, key string, nonZero bool) bool {
	if source.SetFields != nil {
		return source.SetFields[key]
	}
	return nonZero
}

func mergeString(target, source *Config, key string, dst *string, v, sourceType string) {
	if isSet(source, key, v != "") {
		*dst = v
		target.Sources[key] = sourceType
	}
}

func mergeInt(target, source *Config, key string, dst *int, v int, sourceType string) {
	if isSet(source, key, v != 0) {
		*dst = v
		target.Sources[key] = sourceType
	}
}
