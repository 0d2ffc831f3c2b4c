package testsupport

import (
	"path/filepath"
	"testing"

	"sceneforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Providers.Image.Endpoint = "http://127.0.0.1:0/generate"
	cfg.Providers.Speech.Endpoint = "http://127.0.0.1:0/generate"
	cfg.Providers.Video.Endpoint = "http://127.0.0.1:0/generate"
	cfg.Providers.RetryAttempts = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithNtfyTopic sets the notification topic on the test config.
func WithNtfyTopic(topic string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = topic
		cfg.Notifications.Workflows = true
		cfg.Notifications.Jobs = true
		cfg.Notifications.Errors = true
	}
}

// WithMaxConcurrentJobs overrides the job queue concurrency cap.
func WithMaxConcurrentJobs(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.MaxConcurrent = n
	}
}
