package redis

const keyPrefix = "relay:"

// StateKey holds the JSON StreamState record.
func StateKey() string { return keyPrefix + "stream:state" }

// ConfigKey holds the JSON StreamConfig record.
func ConfigKey() string { return keyPrefix + "stream:config" }
