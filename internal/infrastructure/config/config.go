package config

import (
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Bridge    BridgeConfig
	Transport TransportConfig
	Relay     RelayConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
}

// BridgeConfig holds endpoint configuration shared by both domains.
type BridgeConfig struct {
	ID          string        `envconfig:"BRIDGE_ID" default:"terabithia"`
	Proxies     bool          `envconfig:"BRIDGE_PROXIES" default:"true"`
	CallTimeout time.Duration `envconfig:"BRIDGE_CALL_TIMEOUT" default:"30s"`
	IDFormat    string        `envconfig:"BRIDGE_ID_FORMAT" default:"ulid"`
}

// TransportConfig selects the broadcast channel implementation.
type TransportConfig struct {
	Kind        string `envconfig:"TRANSPORT" default:"memory"` // memory, ws, redis
	TabID       string `envconfig:"TAB_ID" default:"tab-1"`
	RelayURL    string `envconfig:"RELAY_URL" default:"ws://localhost:8090"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"terabithia"`
}

// RelayConfig holds relay server configuration.
type RelayConfig struct {
	Host      string `envconfig:"RELAY_HOST" default:"0.0.0.0"`
	Port      string `envconfig:"RELAY_PORT" default:"8090"`
	RateLimit RateLimitConfig
}

// Addr returns the listen address.
func (r RelayConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RELAY_RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RELAY_RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RELAY_RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds JavaScript domain configuration.
type SandboxConfig struct {
	Timeout time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	Console bool          `envconfig:"SANDBOX_CONSOLE" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:          "terabithia",
			Proxies:     true,
			CallTimeout: 30 * time.Second,
			IDFormat:    "ulid",
		},
		Transport: TransportConfig{
			Kind:        "memory",
			TabID:       "tab-1",
			RelayURL:    "ws://localhost:8090",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "terabithia",
		},
		Relay: RelayConfig{
			Host: "0.0.0.0",
			Port: "8090",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				Burst:             200,
				Enabled:           true,
			},
		},
		Sandbox: SandboxConfig{
			Timeout: 5 * time.Second,
			Console: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
