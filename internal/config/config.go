// Package config loads platform configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full platform configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Stripe    StripeConfig    `yaml:"stripe"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// HTTPConfig controls the public listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"CHARGENET_HTTP_PORT"`
}

// DatabaseConfig points at the postgres instance.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"CHARGENET_POSTGRES_DSN"`
}

// RedisConfig points at the live-state cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"CHARGENET_REDIS_ADDR"`
	Password string `yaml:"password" env:"CHARGENET_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CHARGENET_REDIS_DB"`
}

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	Secret                 string `yaml:"secret" env:"CHARGENET_JWT_SECRET"`
	AccessExpiresInMinutes int    `yaml:"accessExpiresInMinutes" env:"CHARGENET_JWT_ACCESS_MINUTES"`
	RefreshExpiresInHours  int    `yaml:"refreshExpiresInHours" env:"CHARGENET_JWT_REFRESH_HOURS"`
}

// StripeConfig holds payment provider credentials and plan price mapping.
type StripeConfig struct {
	APIKey            string `yaml:"apiKey" env:"CHARGENET_STRIPE_API_KEY"`
	TimeoutSeconds    int    `yaml:"timeoutSeconds" env:"CHARGENET_STRIPE_TIMEOUT"`
	FleetPriceID      string `yaml:"fleetPriceId" env:"CHARGENET_STRIPE_FLEET_PRICE"`
	EnterprisePriceID string `yaml:"enterprisePriceId" env:"CHARGENET_STRIPE_ENTERPRISE_PRICE"`
}

// RateLimitConfig bounds unauthenticated request rates per client IP.
type RateLimitConfig struct {
	Requests      int `yaml:"requests" env:"CHARGENET_RATE_LIMIT_REQUESTS"`
	WindowSeconds int `yaml:"windowSeconds" env:"CHARGENET_RATE_LIMIT_WINDOW"`
}

// Load reads configuration from the given YAML path (optional) plus
// environment overrides, applies defaults and validates required fields.
func Load(path string) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{Port: "8080"},
		JWT: JWTConfig{
			AccessExpiresInMinutes: 60,
			RefreshExpiresInHours:  720,
		},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Stripe:    StripeConfig{TimeoutSeconds: 10},
		RateLimit: RateLimitConfig{Requests: 10, WindowSeconds: 60},
	}

	if err := Hydrate(cfg, path); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	if strings.TrimSpace(cfg.Stripe.APIKey) == "" {
		return nil, errors.New("config: stripe api key required")
	}
	if cfg.JWT.AccessExpiresInMinutes <= 0 {
		cfg.JWT.AccessExpiresInMinutes = 60
	}
	if cfg.JWT.RefreshExpiresInHours <= 0 {
		cfg.JWT.RefreshExpiresInHours = 720
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = 10
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 60
	}

	return cfg, nil
}

// HTTPAddress ensures we always return host:port formatted string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// AccessTokenTTL converts configured access expiry to duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessExpiresInMinutes) * time.Minute
}

// RefreshTokenTTL converts configured refresh expiry to duration.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.JWT.RefreshExpiresInHours) * time.Hour
}

// StripeTimeout bounds a single payment provider call.
func (c *Config) StripeTimeout() time.Duration {
	if c.Stripe.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Stripe.TimeoutSeconds) * time.Second
}

// RateLimitWindow returns the fixed window size.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}
