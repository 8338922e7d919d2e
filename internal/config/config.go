// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
)

// Config is the full subsystem configuration. It is built in code and
// injected at construction; loading it from a file is the caller's concern.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge" json:"bridge"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Alerting AlertingConfig `yaml:"alerting" json:"alerting"`

	// DrainTimeout bounds how long Stop waits for in-flight alert
	// deliveries before giving up.
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// BridgeConfig configures the analysis backend client.
type BridgeConfig struct {
	Endpoint            string        `yaml:"endpoint" json:"endpoint"`
	RequestTimeout      time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxAttempts         int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff      time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff" json:"max_backoff"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
	ObservationPeriod   time.Duration `yaml:"observation_period" json:"observation_period"`
	Cooldown            time.Duration `yaml:"cooldown" json:"cooldown"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// MetricsConfig configures the window collector.
type MetricsConfig struct {
	WindowDuration   time.Duration `yaml:"window_duration" json:"window_duration"`
	RetentionWindows int           `yaml:"retention_windows" json:"retention_windows"`
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
}

// ThresholdRule is a severity ladder for one (dimension, category) pair.
// A score above Medium fires a medium alert, above High a high alert, and
// above Critical a critical one.
type ThresholdRule struct {
	Dimension string  `yaml:"dimension" json:"dimension"`
	Category  string  `yaml:"category" json:"category"`
	Medium    float64 `yaml:"medium" json:"medium"`
	High      float64 `yaml:"high" json:"high"`
	Critical  float64 `yaml:"critical" json:"critical"`
}

// ChannelConfig describes one notification channel.
type ChannelConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"` // "webhook" or "log"
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Secret  string            `yaml:"secret,omitempty" json:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// RatePerMinute caps deliveries on this channel. Zero means unlimited.
	RatePerMinute int `yaml:"rate_per_minute,omitempty" json:"rate_per_minute,omitempty"`
}

// AlertingConfig configures evaluation, dispatch and escalation.
type AlertingConfig struct {
	Rules    []ThresholdRule `yaml:"rules" json:"rules"`
	Channels []ChannelConfig `yaml:"channels" json:"channels"`
	// TierChannels maps a severity tier name to the channel names that
	// tier dispatches to.
	TierChannels      map[string][]string `yaml:"tier_channels" json:"tier_channels"`
	EscalationTimeout time.Duration       `yaml:"escalation_timeout" json:"escalation_timeout"`
	QuietPeriod       time.Duration       `yaml:"quiet_period" json:"quiet_period"`
	SweepInterval     time.Duration       `yaml:"sweep_interval" json:"sweep_interval"`
	MaxTier           string              `yaml:"max_tier" json:"max_tier"`
	DeliveryTimeout   time.Duration       `yaml:"delivery_timeout" json:"delivery_timeout"`
}

// Default returns a configuration with the documented defaults filled in.
// The endpoint and at least one rule/channel still have to be supplied.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			RequestTimeout:      5 * time.Second,
			MaxAttempts:         3,
			InitialBackoff:      100 * time.Millisecond,
			MaxBackoff:          5 * time.Second,
			FailureThreshold:    5,
			ObservationPeriod:   2 * time.Minute,
			Cooldown:            60 * time.Second,
			HealthCheckInterval: 15 * time.Second,
		},
		Metrics: MetricsConfig{
			WindowDuration:   60 * time.Second,
			RetentionWindows: 24,
			EvictionInterval: 30 * time.Second,
		},
		Alerting: AlertingConfig{
			TierChannels:      make(map[string][]string),
			EscalationTimeout: 15 * time.Minute,
			QuietPeriod:       30 * time.Minute,
			SweepInterval:     30 * time.Second,
			MaxTier:           bias.SeverityCritical.String(),
			DeliveryTimeout:   10 * time.Second,
		},
		DrainTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration. Errors here are fatal at startup and
// cause Reconfigure to keep the previous configuration.
func (c *Config) Validate() error {
	if err := c.Bridge.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.Alerting.Validate(); err != nil {
		return err
	}
	if c.DrainTimeout <= 0 {
		return errors.New("config: drain_timeout must be positive")
	}
	return nil
}

// Validate checks bridge settings.
func (c *BridgeConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("config: bridge endpoint is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: bridge request_timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("config: bridge max_attempts must be at least 1")
	}
	if c.FailureThreshold < 1 {
		return errors.New("config: bridge failure_threshold must be at least 1")
	}
	if c.Cooldown <= 0 {
		return errors.New("config: bridge cooldown must be positive")
	}
	return nil
}

// Validate checks collector settings.
func (c *MetricsConfig) Validate() error {
	if c.WindowDuration <= 0 {
		return errors.New("config: metrics window_duration must be positive")
	}
	if c.RetentionWindows < 1 {
		return errors.New("config: metrics retention_windows must be at least 1")
	}
	return nil
}

// Validate checks alerting settings, including that every tier references
// channels that exist and each rule's ladder is ordered.
func (c *AlertingConfig) Validate() error {
	for i, r := range c.Rules {
		if r.Dimension == "" || r.Category == "" {
			return fmt.Errorf("config: rule %d missing dimension or category", i)
		}
		if !(r.Medium < r.High && r.High < r.Critical) {
			return fmt.Errorf("config: rule %d thresholds must satisfy medium < high < critical", i)
		}
		if r.Medium < 0 || r.Critical > 1 {
			return fmt.Errorf("config: rule %d thresholds must be within [0, 1]", i)
		}
	}

	names := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("config: channel %d has no name", i)
		}
		if names[ch.Name] {
			return fmt.Errorf("config: duplicate channel name %q", ch.Name)
		}
		names[ch.Name] = true
		switch ch.Type {
		case "webhook":
			if ch.URL == "" {
				return fmt.Errorf("config: webhook channel %q requires a url", ch.Name)
			}
		case "log":
		default:
			return fmt.Errorf("config: channel %q has unknown type %q", ch.Name, ch.Type)
		}
	}

	for tier, chans := range c.TierChannels {
		if ParseSeverity(tier) == bias.SeverityNone {
			return fmt.Errorf("config: unknown severity tier %q", tier)
		}
		for _, name := range chans {
			if !names[name] {
				return fmt.Errorf("config: tier %q references unknown channel %q", tier, name)
			}
		}
	}

	if c.MaxTier != "" && ParseSeverity(c.MaxTier) == bias.SeverityNone {
		return fmt.Errorf("config: unknown max_tier %q", c.MaxTier)
	}
	if c.EscalationTimeout <= 0 {
		return errors.New("config: escalation_timeout must be positive")
	}
	if c.QuietPeriod <= 0 {
		return errors.New("config: quiet_period must be positive")
	}
	return nil
}

// ParseSeverity maps a tier name to its severity. Unknown names map to
// SeverityNone.
func ParseSeverity(name string) bias.Severity {
	switch name {
	case "medium":
		return bias.SeverityMedium
	case "high":
		return bias.SeverityHigh
	case "critical":
		return bias.SeverityCritical
	default:
		return bias.SeverityNone
	}
}
