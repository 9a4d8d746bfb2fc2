// Package config loads the vault service configuration. Values resolve in
// priority order: built-in defaults, then an optional YAML file, then
// environment variables named by `env` struct tags.
package config
