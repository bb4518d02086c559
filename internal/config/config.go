// Package config loads the server configuration from an optional YAML
// file, environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Config is the whole process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      auth.Config     `mapstructure:"auth"`
	Database  store.Config    `mapstructure:"database"`
	Redis     presence.Config `mapstructure:"redis"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       logging.Config  `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig holds per-connection transport limits.
type WebSocketConfig struct {
	MaxMessageSize int64                  `mapstructure:"max_message_size"`
	SendBuffer     int                    `mapstructure:"send_buffer"`
	PingInterval   time.Duration          `mapstructure:"ping_interval"`
	PongWait       time.Duration          `mapstructure:"pong_wait"`
	WriteWait      time.Duration          `mapstructure:"write_wait"`
	RateLimit      server.RateLimitConfig `mapstructure:"rate_limit"`
}

// ChatConfig holds chat core options.
type ChatConfig struct {
	RecordMembership bool          `mapstructure:"record_membership"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	// SeedRooms are created at startup when missing.
	SeedRooms []string `mapstructure:"seed_rooms"`
}

// Load reads configuration. path, when non-empty, names a config file;
// otherwise config.yaml is looked up in ./config and the working
// directory, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := server.DefaultConfig()

	v.SetDefault("server.port", def.Port)
	v.SetDefault("server.allowed_origins", def.AllowedOrigins)
	v.SetDefault("server.read_timeout", def.ReadTimeout)
	v.SetDefault("server.write_timeout", def.WriteTimeout)
	v.SetDefault("server.idle_timeout", def.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", def.ShutdownTimeout)

	v.SetDefault("websocket.max_message_size", def.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", def.SendBuffer)
	v.SetDefault("websocket.ping_interval", def.PingInterval)
	v.SetDefault("websocket.pong_wait", def.PongWait)
	v.SetDefault("websocket.write_wait", def.WriteWait)
	v.SetDefault("websocket.rate_limit.burst", def.RateLimit.Burst)
	v.SetDefault("websocket.rate_limit.refill_interval", def.RateLimit.RefillInterval)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", "0s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "roomchat.db")
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "presence")
	v.SetDefault("redis.room_ttl", "24h")

	v.SetDefault("chat.record_membership", false)
	v.SetDefault("chat.call_timeout", "5s")
	v.SetDefault("chat.seed_rooms", []string{"general"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "roomchat")
}

// bindEnv adds the short environment names deployments commonly use.
func bindEnv(v *viper.Viper) error {
	aliases := map[string]string{
		"server.port":            "PORT",
		"server.allowed_origins": "ALLOWED_ORIGINS",
		"auth.jwt_secret":        "JWT_SECRET",
		"database.driver":        "DATABASE_DRIVER",
		"database.dsn":           "DATABASE_DSN",
		"redis.address":          "REDIS_ADDRESS",
		"redis.password":         "REDIS_PASSWORD",
		"log.level":              "LOG_LEVEL",
	}
	for key, env := range aliases {
		// The automatic name (e.g. SERVER_PORT) stays bound alongside the alias.
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

// Transport returns the transport settings for server.New.
func (c *Config) Transport() server.Config {
	return server.Config{
		Port:            c.Server.Port,
		AllowedOrigins:  c.Server.AllowedOrigins,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		IdleTimeout:     c.Server.IdleTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		MaxMessageSize:  c.WebSocket.MaxMessageSize,
		SendBuffer:      c.WebSocket.SendBuffer,
		PingInterval:    c.WebSocket.PingInterval,
		PongWait:        c.WebSocket.PongWait,
		WriteWait:       c.WebSocket.WriteWait,
		RateLimit:       c.WebSocket.RateLimit,
	}
}

// ChatOptions returns the chat core options.
func (c *Config) ChatOptions() chat.Options {
	return chat.Options{
		RecordMembership: c.Chat.RecordMembership,
		CallTimeout:      c.Chat.CallTimeout,
	}
}
