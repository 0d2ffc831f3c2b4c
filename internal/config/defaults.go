package config

const (
	defaultDataDir             = "~/.local/share/sceneforge"
	defaultLogDir              = "~/.local/share/sceneforge/logs"
	defaultAPIBind             = "127.0.0.1:7312"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultProviderTimeout     = 120
	defaultRetryAttempts       = 3
	defaultRetryInitialDelayMS = 500
	defaultMaxConcurrentJobs   = 2
	defaultSubscriberBuffer    = 64
	defaultNotifyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Providers: Providers{
			Image:               Provider{TimeoutSeconds: defaultProviderTimeout},
			Speech:              Provider{TimeoutSeconds: defaultProviderTimeout},
			Video:               Provider{TimeoutSeconds: defaultProviderTimeout},
			RetryAttempts:       defaultRetryAttempts,
			RetryInitialDelayMS: defaultRetryInitialDelayMS,
		},
		Jobs: Jobs{
			MaxConcurrent: defaultMaxConcurrentJobs,
		},
		Events: Events{
			SubscriberBuffer: defaultSubscriberBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Workflows:      true,
			Jobs:           true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
