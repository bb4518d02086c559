package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir moves into a fresh directory so no stray config.yaml is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

// TestLoadDefaults tests that defaults apply when only the secret is set.
func TestLoadDefaults(t *testing.T) {
	chdir(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != ":8080" {
		t.Errorf("Server.Port = %q, want :8080", cfg.Server.Port)
	}
	if cfg.WebSocket.PingInterval != 54*time.Second || cfg.WebSocket.SendBuffer != 256 {
		t.Errorf("WebSocket = %+v", cfg.WebSocket)
	}
	if cfg.Database.Driver != "sqlite" || !cfg.Database.AutoMigrate {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Redis.Enabled || cfg.Redis.RoomTTL != 24*time.Hour {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Chat.CallTimeout != 5*time.Second || len(cfg.Chat.SeedRooms) != 1 || cfg.Chat.SeedRooms[0] != "general" {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Log.Level != "info" || cfg.Log.ServiceName != "roomchat" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("Auth.Secret = %q", cfg.Auth.Secret)
	}
}

// TestLoadRequiresSecret tests that a missing JWT secret is rejected.
func TestLoadRequiresSecret(t *testing.T) {
	chdir(t)
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(""); err == nil {
		t.Error("Load() without a secret succeeded")
	}
}

// TestLoadEnvironment tests the automatic and aliased environment names.
func TestLoadEnvironment(t *testing.T) {
	chdir(t)
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "alias",
			env:  map[string]string{"PORT": "9000", "ALLOWED_ORIGINS": "http://a.example,http://b.example"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "9000" {
					t.Errorf("Server.Port = %q, want 9000", cfg.Server.Port)
				}
				if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.example" {
					t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
				}
			},
		},
		{
			name: "automatic name",
			env:  map[string]string{"SERVER_PORT": "9100", "CHAT_RECORD_MEMBERSHIP": "true", "WEBSOCKET_PONG_WAIT": "30s"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "9100" {
					t.Errorf("Server.Port = %q, want 9100", cfg.Server.Port)
				}
				if !cfg.Chat.RecordMembership {
					t.Error("Chat.RecordMembership not set")
				}
				if cfg.WebSocket.PongWait != 30*time.Second {
					t.Errorf("PongWait = %v, want 30s", cfg.WebSocket.PongWait)
				}
			},
		},
		{
			name: "redis",
			env:  map[string]string{"REDIS_ENABLED": "true", "REDIS_ADDRESS": "redis:6379"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Redis.Enabled || cfg.Redis.Address != "redis:6379" {
					t.Errorf("Redis = %+v", cfg.Redis)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

// TestLoadFile tests reading an explicit YAML file with env taking precedence.
func TestLoadFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "roomchat.yaml")
	yaml := `
server:
  port: ":7000"
auth:
  jwt_secret: from-file
  issuer: roomchat
websocket:
  max_message_size: 1024
  rate_limit:
    burst: 10
    refill_interval: 2s
database:
  driver: postgres
  dsn: postgres://localhost/roomchat
chat:
  seed_rooms: [general, random]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != ":7000" || cfg.Auth.Issuer != "roomchat" {
		t.Errorf("Server.Port/Auth.Issuer = %q/%q", cfg.Server.Port, cfg.Auth.Issuer)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("Auth.Secret = %q, want the environment value", cfg.Auth.Secret)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
	if len(cfg.Chat.SeedRooms) != 2 {
		t.Errorf("SeedRooms = %v", cfg.Chat.SeedRooms)
	}

	transport := cfg.Transport()
	if transport.MaxMessageSize != 1024 || transport.RateLimit.Burst != 10 || transport.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("Transport() = %+v", transport)
	}
}

// TestLoadMissingExplicitFile tests that a named but missing file is an error.
func TestLoadMissingExplicitFile(t *testing.T) {
	dir := chdir(t)
	t.Setenv("JWT_SECRET", "s3cret")

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() with a missing file succeeded")
	}
}

// TestValidateDriver tests the database driver check.
func TestValidateDriver(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.Secret = "x"

	for driver, ok := range map[string]bool{"sqlite": true, "postgres": true, "mysql": false, "": false} {
		cfg.Database.Driver = driver
		if err := cfg.Validate(); (err == nil) != ok {
			t.Errorf("Validate() with driver %q error = %v", driver, err)
		}
	}
}
