package config

import (
	"fmt"
	"net/netip"
)

type RawServerConfig struct {
	Port             *int `yaml:"port" json:"port"`
	SessionQueueSize *int `yaml:"sessionQueueSize" json:"sessionQueueSize"`
}

func (r RawServerConfig) ToDomain() ServerConfig {
	var cfg ServerConfig
	if r.Port != nil {
		cfg.Port = *r.Port
	}
	if r.SessionQueueSize != nil {
		cfg.SessionQueueSize = *r.SessionQueueSize
	}
	return cfg
}

type RawSecurityConfig struct {
	AdminCredential *string   `yaml:"adminCredential" json:"adminCredential"`
	TLSCrtFile      *string   `yaml:"tlsCrtFile" json:"tlsCrtFile"`
	TLSKeyFile      *string   `yaml:"tlsKeyFile" json:"tlsKeyFile"`
	AdminsNetworks  *[]string `yaml:"adminsNetworks" json:"adminsNetworks"`
}

func (r RawSecurityConfig) ToDomain() (SecurityConfig, error) {
	var cfg SecurityConfig
	cfg.AdminCredential = r.AdminCredential
	cfg.TLSCrtFile = r.TLSCrtFile
	cfg.TLSKeyFile = r.TLSKeyFile

	if r.AdminsNetworks != nil {
		nets := make([]netip.Prefix, 0, len(*r.AdminsNetworks))
		for _, s := range *r.AdminsNetworks {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return SecurityConfig{}, fmt.Errorf("invalid admins network %q: %w", s, err)
			}
			nets = append(nets, p)
		}
		cfg.AdminsNetworks = nets
	}

	return cfg, nil
}

type RawPubSubConfig struct {
	PublishURL          *string `yaml:"publish_url" json:"publish_url"`
	SubscribeURL        *string `yaml:"subscribe_url" json:"subscribe_url"`
	ForwardHost         *string `yaml:"forward_host" json:"forward_host"`
	PullHost            *string `yaml:"pull_host" json:"pull_host"`
	NotifyEvents        *bool   `yaml:"events" json:"events"`
	ControlPlaneTimeout *int    `yaml:"control_plane_timeout" json:"control_plane_timeout"`
}

func (r RawPubSubConfig) ToDomain() PubSubConfig {
	var cfg PubSubConfig
	if r.PublishURL != nil {
		cfg.PublishURL = *r.PublishURL
	}
	if r.SubscribeURL != nil {
		cfg.SubscribeURL = *r.SubscribeURL
	}
	if r.ForwardHost != nil {
		cfg.ForwardHost = *r.ForwardHost
	}
	if r.PullHost != nil {
		cfg.PullHost = *r.PullHost
	}
	if r.NotifyEvents != nil {
		cfg.NotifyEvents = *r.NotifyEvents
	}
	if r.ControlPlaneTimeout != nil {
		cfg.ControlPlaneTimeout = *r.ControlPlaneTimeout
	}
	return cfg
}

type RawRelayConfig struct {
	WatchdogInterval *int `yaml:"watchdogInterval" json:"watchdogInterval"`
	GraceWindow      *int `yaml:"graceWindow" json:"graceWindow"`
	PullReadTimeout  *int `yaml:"pullReadTimeout" json:"pullReadTimeout"`
}

func (r RawRelayConfig) ToDomain() (RelayConfig, error) {
	var cfg RelayConfig
	if r.WatchdogInterval != nil {
		if *r.WatchdogInterval <= 0 {
			return RelayConfig{}, fmt.Errorf("watchdogInterval must be positive, got %d", *r.WatchdogInterval)
		}
		cfg.WatchdogInterval = *r.WatchdogInterval
	}
	if r.GraceWindow != nil {
		if *r.GraceWindow < 0 {
			return RelayConfig{}, fmt.Errorf("graceWindow must not be negative, got %d", *r.GraceWindow)
		}
		cfg.GraceWindow = *r.GraceWindow
	}
	if r.PullReadTimeout != nil {
		cfg.PullReadTimeout = *r.PullReadTimeout
	}
	return cfg, nil
}

type RawLogConfig struct {
	Level   *string `yaml:"level" json:"level"`
	NoColor *bool   `yaml:"noColor" json:"noColor"`
}

func (r RawLogConfig) ToDomain() LogConfig {
	var cfg LogConfig
	if r.Level != nil {
		cfg.Level = *r.Level
	}
	if r.NoColor != nil {
		cfg.NoColor = *r.NoColor
	}
	return cfg
}
