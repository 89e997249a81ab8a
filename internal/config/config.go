// Package config provides the runtime configuration of the chat server:
// defaults, loading from a YAML file, sanitising and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/bus"
	"github.com/Tyrowin/roomchat/internal/history"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/store"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// AllowMissingOrigin accepts upgrades without an Origin header, as sent
	// by CLI and test clients. Off by default.
	AllowMissingOrigin bool              `yaml:"allow_missing_origin"`
	MaxMessageSize     int64             `yaml:"max_message_size"`
	RateLimit          ratelimit.Config  `yaml:"rate_limit"`
	HistorySize        int               `yaml:"history_size"`
	Redis              store.RedisConfig `yaml:"redis"`
	Bus                bus.Config        `yaml:"bus"`
	Auth               auth.Config       `yaml:"auth"`
	Log                LogConfig         `yaml:"log"`
	ShutdownTimeout    time.Duration     `yaml:"shutdown_timeout"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit:      ratelimit.DefaultConfig(),
		HistorySize:    history.DefaultSize,
		Redis: store.RedisConfig{
			Addr: "localhost:6379",
		},
		Bus: bus.Config{
			Driver:  bus.DriverRedis,
			NATSURL: "nats://localhost:4222",
		},
		Auth: auth.Config{
			Drivers: []string{auth.DriverStatic},
			JWT:     auth.DefaultJWTConfig(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads configuration from path on top of the defaults. An empty path
// or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	return cfg.Sanitize(), nil
}

// Sanitize replaces unset or out-of-range values with defaults and trims list
// entries.
func (c Config) Sanitize() Config {
	def := Default()

	if c.Port == "" {
		c.Port = def.Port
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = def.RateLimit.Limit
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = def.RateLimit.Window
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = def.RateLimit.KeyPrefix
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = def.Bus.Driver
	}
	if c.Bus.NATSURL == "" {
		c.Bus.NATSURL = def.Bus.NATSURL
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = def.Auth.JWT.Issuer
	}
	if c.Auth.JWT.TokenTTL <= 0 {
		c.Auth.JWT.TokenTTL = def.Auth.JWT.TokenTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	c.AllowedOrigins = SplitList(strings.Join(c.AllowedOrigins, ","))
	c.Auth.Users = SplitList(strings.Join(c.Auth.Users, ","))
	c.Auth.Drivers = SplitList(strings.Join(c.Auth.Drivers, ","))
	if len(c.Auth.Drivers) == 0 {
		c.Auth.Drivers = def.Auth.Drivers
	}

	return c
}

// Validate reports settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error

	switch c.Bus.Driver {
	case bus.DriverLocal, bus.DriverRedis, bus.DriverNATS:
	default:
		errs = append(errs, fmt.Errorf("bus.driver: unknown driver %q", c.Bus.Driver))
	}

	for _, d := range c.Auth.Drivers {
		switch d {
		case auth.DriverStatic:
		case auth.DriverJWT:
			if c.Auth.JWT.Secret == "" {
				errs = append(errs, fmt.Errorf("auth.jwt.secret: required for the jwt driver"))
			}
		default:
			errs = append(errs, fmt.Errorf("auth.drivers: unknown driver %q", d))
		}
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SplitList splits a comma separated value and drops empty entries.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
