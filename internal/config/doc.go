// Package config loads, validates, and normalizes the TOML configuration
// consumed by the sceneforge daemon and CLI.
package config
