package config

// Option overrides a loaded configuration value. Options are applied after
// the files are merged, so command line flags win.
type Option func(*AppConfig)

func WithServerPort(port int) Option {
	return func(c *AppConfig) {
		if port > 0 {
			c.Server.Port = port
		}
	}
}

func WithLogLevel(level string) Option {
	return func(c *AppConfig) {
		if level != "" {
			c.Log.Level = level
		}
	}
}

func WithNoColor(noColor bool) Option {
	return func(c *AppConfig) {
		if noColor {
			c.Log.NoColor = true
		}
	}
}

func WithControlPlane(publishURL, subscribeURL string) Option {
	return func(c *AppConfig) {
		if publishURL != "" {
			c.PubSub.PublishURL = publishURL
		}
		if subscribeURL != "" {
			c.PubSub.SubscribeURL = subscribeURL
		}
	}
}

func WithNotifyEvents(enabled bool) Option {
	return func(c *AppConfig) {
		if enabled {
			c.PubSub.NotifyEvents = true
		}
	}
}
