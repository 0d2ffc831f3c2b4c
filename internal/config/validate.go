package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProviders() error {
	for name, p := range map[string]Provider{
		"providers.image":  c.Providers.Image,
		"providers.speech": c.Providers.Speech,
		"providers.video":  c.Providers.Video,
	} {
		if p.TimeoutSeconds <= 0 {
			return fmt.Errorf("%s.timeout_seconds must be positive", name)
		}
	}
	if c.Providers.RetryAttempts <= 0 {
		return errors.New("providers.retry_attempts must be positive")
	}
	if c.Providers.RetryInitialDelayMS <= 0 {
		return errors.New("providers.retry_initial_delay_ms must be positive")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.MaxConcurrent <= 0 {
		return errors.New("jobs.max_concurrent must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.SubscriberBuffer <= 0 {
		return errors.New("events.subscriber_buffer must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
