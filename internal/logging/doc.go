// Package logging configures slog for the daemon and CLI. It provides a
// console handler with key=value output for interactive use, a JSON handler
// for log aggregation, and attribute helpers shared across components.
package logging
