// Package config loads the bridge configuration from YAML and the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	EventsNone  = "none"
	EventsRedis = "redis"
)

// Config represents the complete bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cookie    CookieConfig    `yaml:"cookie"`
	Auth      AuthConfig      `yaml:"auth"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Redis     RedisConfig     `yaml:"redis"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen     string `yaml:"listen"`
	Production bool   `yaml:"production"`
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the socket peer is the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// UpstreamConfig points the bridge at the fund platform API.
type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"` // 0 keeps the platform default
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name string `yaml:"name"`
	// SigningSecret switches the cookie to a signed envelope when set.
	SigningSecret string        `yaml:"signing_secret"`
	TTL           time.Duration `yaml:"ttl"`
}

// AuthConfig controls the login replay guard.
type AuthConfig struct {
	ReplayGuard bool          `yaml:"replay_guard"`
	NonceTTL    time.Duration `yaml:"nonce_ttl"`
	Store       string        `yaml:"store"` // memory, redis
}

// ProxyConfig lists the upstream prefixes exposed under /api.
type ProxyConfig struct {
	Prefixes []string `yaml:"prefixes"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// EventsConfig selects where session events are published.
type EventsConfig struct {
	Backend string `yaml:"backend"` // none, redis
	Topic   string `yaml:"topic"`
}

// RateLimitConfig defines per-IP limits on the auth endpoints.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
// The upstream base URL has no default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":9000",
		},
		Cookie: CookieConfig{
			Name: "polyagent_session",
			TTL:  7 * 24 * time.Hour,
		},
		Auth: AuthConfig{
			ReplayGuard: true,
			NonceTTL:    10 * time.Minute,
			Store:       StoreMemory,
		},
		Proxy: ProxyConfig{
			Prefixes: []string{"market", "manager", "investment", "user"},
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Events: EventsConfig{
			Backend: EventsNone,
			Topic:   "fundgate.session",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path when it is non-empty, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the process environment.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("API_BASE_URL")); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("FUNDGATE_PRODUCTION"); v != "" {
		production, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FUNDGATE_PRODUCTION %q: %w", v, err)
		}
		c.Server.Production = production
	}
	if v := os.Getenv("FUNDGATE_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("FUNDGATE_COOKIE_SECRET"); v != "" {
		c.Cookie.SigningSecret = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required (API_BASE_URL)")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute http(s) URL: %q", c.Upstream.BaseURL)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout cannot be negative")
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	for i, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("server.trusted_proxies[%d]: invalid IP or CIDR %q", i, p)
			}
		}
	}

	if c.Cookie.Name == "" {
		return fmt.Errorf("cookie.name is required")
	}
	if c.Cookie.SigningSecret != "" && len(c.Cookie.SigningSecret) < 32 {
		return fmt.Errorf("cookie.signing_secret must be at least 32 bytes")
	}

	switch c.Auth.Store {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown auth.store %q", c.Auth.Store)
	}
	if c.Auth.NonceTTL <= 0 {
		return fmt.Errorf("auth.nonce_ttl must be positive")
	}

	switch c.Events.Backend {
	case EventsNone, EventsRedis:
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}

	for i, p := range c.Proxy.Prefixes {
		if p == "" || strings.Contains(p, "/") {
			return fmt.Errorf("proxy.prefixes[%d]: invalid prefix %q", i, p)
		}
		if p == "auth" {
			return fmt.Errorf("proxy.prefixes[%d]: %q is reserved", i, p)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires positive requests_per_second and burst")
	}

	return nil
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Auth.Store == StoreRedis || c.Events.Backend == EventsRedis
}
