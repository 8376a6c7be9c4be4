// Package config loads application configuration from the environment with
// an optional YAML file overlay.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	CMS       CMSConfig     `yaml:"cms"`
	Logging   LogConfig     `yaml:"logging"`
	RateLimit RateConfig    `yaml:"rateLimit"`
	Sessions  SessionConfig `yaml:"sessions"`
}

// ServerConfig holds the portal-facing HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" yaml:"host"`
	Port string `envconfig:"PORT" yaml:"port"`
}

// CMSConfig describes the embedded CMS backend.
type CMSConfig struct {
	// ExternalLocation is the URL of the CMS backend. A path starting
	// with "/" is resolved against BaseURL, mirroring a portal-relative
	// install.
	ExternalLocation string `envconfig:"CMS_EXTERNAL_LOCATION" yaml:"externalLocation"`

	// BaseURL is the portal's own absolute base URL, used to resolve a
	// relative ExternalLocation.
	BaseURL string `envconfig:"CMS_BASE_URL" yaml:"baseURL"`

	// Dialect selects the CMS markup dialect ("rex4" or "rex5").
	Dialect string `envconfig:"CMS_DIALECT" yaml:"dialect"`

	// EnableSSLVerify toggles TLS certificate verification. Disabling it
	// is an explicit opt-in for self-signed internal deployments.
	EnableSSLVerify bool `envconfig:"CMS_SSL_VERIFY" yaml:"enableSSLVerify"`

	// ReloginDelay is the minimum interval between unforced login-status
	// probes.
	ReloginDelay time.Duration `envconfig:"CMS_RELOGIN_DELAY" yaml:"reloginDelay"`

	// RefreshInterval is the keepalive interval advertised to browsers,
	// clamped to at least 30 seconds.
	RefreshInterval time.Duration `envconfig:"CMS_REFRESH_INTERVAL" yaml:"refreshInterval"`

	// Timeout bounds a single outbound request to the CMS.
	Timeout time.Duration `envconfig:"CMS_TIMEOUT" yaml:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// RateConfig holds rate limiting for the portal-facing endpoints.
type RateConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requestsPerSecond"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled"`
}

// SessionConfig holds the per-user portal session registry settings.
type SessionConfig struct {
	TTL             time.Duration `envconfig:"SESSION_TTL" yaml:"ttl"`
	CleanupInterval time.Duration `envconfig:"SESSION_CLEANUP_INTERVAL" yaml:"cleanupInterval"`
}

// MinRefreshInterval is the lower clamp for the browser keepalive timer.
const MinRefreshInterval = 30 * time.Second

// Default returns a Config populated with built-in defaults. Load layers
// the YAML file and the environment on top of these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		CMS: CMSConfig{
			Dialect:         "rex5",
			EnableSSLVerify: true,
			ReloginDelay:    5 * time.Second,
			RefreshInterval: 10 * time.Minute,
			Timeout:         30 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		Sessions: SessionConfig{
			TTL:             24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. An empty path skips the file step. Precedence is
// environment over file over built-in defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate clamps and sanity-checks the loaded values.
func (c *Config) Validate() error {
	if c.CMS.RefreshInterval < MinRefreshInterval {
		c.CMS.RefreshInterval = MinRefreshInterval
	}
	if c.CMS.ExternalLocation == "" {
		return fmt.Errorf("cms.externalLocation is required")
	}
	if _, err := c.CMS.Endpoint(); err != nil {
		return err
	}
	return nil
}

// Endpoint resolves ExternalLocation into an absolute URL. Portal-relative
// locations require BaseURL.
func (c *CMSConfig) Endpoint() (*url.URL, error) {
	location := c.ExternalLocation
	if location != "" && location[0] == '/' {
		if c.BaseURL == "" {
			return nil, fmt.Errorf("relative cms location %q requires baseURL", location)
		}
		base, err := url.Parse(c.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse baseURL: %w", err)
		}
		rel, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse externalLocation: %w", err)
		}
		return base.ResolveReference(rel), nil
	}

	endpoint, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse externalLocation: %w", err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("cms location %q is not an absolute URL", location)
	}
	return endpoint, nil
}
