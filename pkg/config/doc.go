// Package config loads the application configuration.
//
// Values come from built-in defaults, an optional YAML file and FLOW_* environment
// variables, in increasing precedence. Nested keys map to environment variables
// by replacing dots with underscores:
//
//	FLOW_STORE_DRIVER=badger
//	FLOW_TELEMETRY_LOGGING_LEVEL=debug
//	FLOW_RETRY_DEFAULT_PROFILE=aggressive
//
// The loaded Config is validated with struct tags before it is returned.
package config
