// Package config loads the gateway's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/resilience/retry"
)

// EnvConfigPath names the variable that overrides DefaultConfigPath.
const (
	EnvConfigPath     = "GATEWAY_CONFIG"
	DefaultConfigPath = "config/gateway.yaml"
)

// GatewayConfig represents the gateway configuration file.
type GatewayConfig struct {
	Channels map[string]ChannelConfig `yaml:"channels"`
	Fallback struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"fallback"`
	Webhook struct {
		VerifyTokenEnv string `yaml:"verifyTokenEnv"`
	} `yaml:"webhook"`
}

// ChannelConfig holds the per-channel dispatch settings.
type ChannelConfig struct {
	MaxConcurrency int           `yaml:"maxConcurrency"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	Media          struct {
		Text  MediaToggle `yaml:"text"`
		Image MediaToggle `yaml:"image"`
		Video MediaToggle `yaml:"video"`
	} `yaml:"media"`
	Retry struct {
		MaxAttempts    int           `yaml:"maxAttempts"`
		InitialBackoff time.Duration `yaml:"initialBackoff"`
		MaxBackoff     time.Duration `yaml:"maxBackoff"`
	} `yaml:"retry"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rateLimit"`
}

// MediaToggle enables one media kind on a channel.
type MediaToggle struct {
	Enabled bool `yaml:"enabled"`
}

// channelKey は YAML のキー（小文字）
func channelKey(ch entity.Channel) string { return ch.MetricLabel() }

// defaultChannel returns the settings used when the file omits a channel.
func defaultChannel(ch entity.Channel) ChannelConfig {
	var c ChannelConfig
	c.MaxConcurrency = 5
	c.AttemptTimeout = 2 * time.Minute
	c.Media.Text.Enabled = true
	c.Media.Image.Enabled = true
	c.Media.Video.Enabled = true

	rc := retry.DefaultConfig()
	c.Retry.MaxAttempts = rc.MaxAttempts
	c.Retry.InitialBackoff = rc.InitialDelay
	c.Retry.MaxBackoff = rc.MaxDelay

	switch ch {
	case entity.ChannelTelegram:
		c.RateLimit.RPS, c.RateLimit.Burst = 30, 30
	case entity.ChannelWhatsApp:
		c.RateLimit.RPS, c.RateLimit.Burst = 80, 20
	case entity.ChannelSMS:
		// Twilio の既定キュー上限に合わせる
		c.RateLimit.RPS, c.RateLimit.Burst = 10, 10
	}
	return c
}

// DefaultGatewayConfig returns the configuration used when no file exists.
func DefaultGatewayConfig() *GatewayConfig {
	cfg := &GatewayConfig{Channels: make(map[string]ChannelConfig, len(entity.Channels()))}
	for _, ch := range entity.Channels() {
		cfg.Channels[channelKey(ch)] = defaultChannel(ch)
	}
	cfg.Fallback.Enabled = true
	cfg.Webhook.VerifyTokenEnv = "WHATSAPP_VERIFY_TOKEN"
	return cfg
}

// ConfigPath returns GATEWAY_CONFIG or the default path.
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadGatewayConfig loads configuration from a YAML file. A missing file
// yields DefaultGatewayConfig; channels absent from the file keep their
// defaults, while a channel present in the file is taken as written.
// The path parameter is expected to come from a trusted source (env var or hardcoded default).
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()

	// #nosec G304 -- path is provided by trusted source, not user input
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for name, cc := range file.Channels {
		ch, err := entity.ParseChannel(name)
		if err != nil {
			return nil, fmt.Errorf("config validation failed: unknown channel %q", name)
		}
		cfg.Channels[channelKey(ch)] = cc
	}
	if file.Fallback.Enabled != nil {
		cfg.Fallback.Enabled = *file.Fallback.Enabled
	}
	if file.Webhook.VerifyTokenEnv != "" {
		cfg.Webhook.VerifyTokenEnv = file.Webhook.VerifyTokenEnv
	}

	if err := validateGatewayConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// fileConfig distinguishes an omitted fallback flag from an explicit false.
type fileConfig struct {
	Channels map[string]ChannelConfig `yaml:"channels"`
	Fallback struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"fallback"`
	Webhook struct {
		VerifyTokenEnv string `yaml:"verifyTokenEnv"`
	} `yaml:"webhook"`
}

// validateGatewayConfig validates the loaded configuration.
func validateGatewayConfig(cfg *GatewayConfig) error {
	for name, ch := range cfg.Channels {
		if ch.MaxConcurrency <= 0 {
			return fmt.Errorf("%s: maxConcurrency must be positive", name)
		}
		if ch.AttemptTimeout < 0 {
			return fmt.Errorf("%s: attemptTimeout cannot be negative", name)
		}
		if ch.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("%s: retry.maxAttempts must be positive", name)
		}
		if ch.Retry.InitialBackoff <= 0 || ch.Retry.MaxBackoff <= 0 {
			return fmt.Errorf("%s: retry backoff must be positive", name)
		}
		if ch.Retry.MaxBackoff < ch.Retry.InitialBackoff {
			return fmt.Errorf("%s: retry.maxBackoff must be >= retry.initialBackoff", name)
		}
		if ch.RateLimit.RPS < 0 || ch.RateLimit.Burst < 0 {
			return fmt.Errorf("%s: rateLimit cannot be negative", name)
		}
	}
	if cfg.Webhook.VerifyTokenEnv == "" {
		return fmt.Errorf("webhook verifyTokenEnv is required")
	}
	return nil
}

// Channel returns the settings for ch, falling back to its defaults.
func (c *GatewayConfig) Channel(ch entity.Channel) ChannelConfig {
	if cc, ok := c.Channels[channelKey(ch)]; ok {
		return cc
	}
	return defaultChannel(ch)
}

// MediaEnabled maps each media kind to its enable flag.
func (c ChannelConfig) MediaEnabled() map[entity.MediaKind]bool {
	return map[entity.MediaKind]bool{
		entity.MediaText:  c.Media.Text.Enabled,
		entity.MediaImage: c.Media.Image.Enabled,
		entity.MediaVideo: c.Media.Video.Enabled,
	}
}

// RetryConfig converts the retry block, keeping the library's jitter and floor.
func (c ChannelConfig) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = c.Retry.MaxAttempts
	rc.InitialDelay = c.Retry.InitialBackoff
	rc.MaxDelay = c.Retry.MaxBackoff
	return rc
}
