package config

import (
	"net/netip"
	"time"
)

type AppConfig struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Security SecurityConfig `json:"security" yaml:"security"`
	PubSub   PubSubConfig   `json:"pubsub" yaml:"pubsub"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
	// SessionQueueSize bounds the outbound frame queue of each session socket.
	SessionQueueSize int `json:"sessionQueueSize" yaml:"sessionQueueSize"`
}

type SecurityConfig struct {
	AdminCredential *string        `json:"adminCredential" yaml:"adminCredential"`
	TLSCrtFile      *string        `json:"tlsCrtFile" yaml:"tlsCrtFile"`
	TLSKeyFile      *string        `json:"tlsKeyFile" yaml:"tlsKeyFile"`
	AdminsNetworks  []netip.Prefix `json:"adminsNetworks" yaml:"adminsNetworks"`
}

// PubSubConfig is the part of the configuration the relay core consumes.
type PubSubConfig struct {
	PublishURL   string `json:"publish_url" yaml:"publish_url"`
	SubscribeURL string `json:"subscribe_url" yaml:"subscribe_url"`
	ForwardHost  string `json:"forward_host" yaml:"forward_host"`
	PullHost     string `json:"pull_host" yaml:"pull_host"`
	NotifyEvents bool   `json:"events" yaml:"events"`
	// ControlPlaneTimeout is in milliseconds.
	ControlPlaneTimeout int `json:"control_plane_timeout" yaml:"control_plane_timeout"`
}

// RelayConfig timings are in milliseconds.
type RelayConfig struct {
	WatchdogInterval int `json:"watchdogInterval" yaml:"watchdogInterval"`
	GraceWindow      int `json:"graceWindow" yaml:"graceWindow"`
	PullReadTimeout  int `json:"pullReadTimeout" yaml:"pullReadTimeout"`
}

type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	NoColor bool   `json:"noColor" yaml:"noColor"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:             8088,
			SessionQueueSize: 256,
		},
		Security: SecurityConfig{
			AdminCredential: nil,
			AdminsNetworks: []netip.Prefix{
				netip.MustParsePrefix("0.0.0.0/0"),
			},
		},
		PubSub: PubSubConfig{
			PublishURL:          "http://localhost:5000/publish",
			SubscribeURL:        "http://localhost:5000/play",
			ForwardHost:         "127.0.0.1",
			PullHost:            "127.0.0.1",
			NotifyEvents:        false,
			ControlPlaneTimeout: 5000,
		},
		Relay: RelayConfig{
			WatchdogInterval: 500,
			GraceWindow:      5000,
			PullReadTimeout:  1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c RelayConfig) WatchdogIntervalDuration() time.Duration {
	return time.Duration(c.WatchdogInterval) * time.Millisecond
}

func (c RelayConfig) GraceWindowDuration() time.Duration {
	return time.Duration(c.GraceWindow) * time.Millisecond
}

func (c RelayConfig) PullReadTimeoutDuration() time.Duration {
	return time.Duration(c.PullReadTimeout) * time.Millisecond
}

func (c PubSubConfig) ControlPlaneTimeoutDuration() time.Duration {
	return time.Duration(c.ControlPlaneTimeout) * time.Millisecond
}
