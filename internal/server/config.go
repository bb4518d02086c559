package server

import (
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// Config holds the transport settings of the chat server.
type Config struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	MaxMessageSize int64           `mapstructure:"max_message_size"`
	SendBuffer     int             `mapstructure:"send_buffer"`
	PingInterval   time.Duration   `mapstructure:"ping_interval"`
	PongWait       time.Duration   `mapstructure:"pong_wait"`
	WriteWait      time.Duration   `mapstructure:"write_wait"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxMessageSize:  4096,
		SendBuffer:      256,
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// Sanitize replaces every unset or non-positive value with its default
// and normalizes the listen address. A bare port such as "8080" becomes
// ":8080".
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = def.Port
	} else if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}

	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		// Pings must land inside the read deadline they extend.
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}
