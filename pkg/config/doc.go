// Package config loads and validates the application configuration.
//
// Configuration is read from a YAML file, filled in with defaults, and
// then overridden by MODELGUARD_* environment variables. A file watcher
// with debouncing can trigger reload callbacks when the file changes.
//
// The master encryption secret is never part of the file; the file only
// names the environment variable that carries it.
package config
