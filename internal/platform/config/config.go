package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	PushBackendWebSocket = "websocket"
	PushBackendSSE       = "sse"

	AddressingNewest = "newest"
	AddressingAll    = "all"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`

	PushBackend                 string        `env:"PUSH_BACKEND" default:"websocket"`
	PingInterval                time.Duration `env:"PING_INTERVAL" default:"60s"`
	SessionAddressing           string        `env:"SESSION_ADDRESSING" default:"newest"`
	PresenceCleanupOnDisconnect bool          `env:"PRESENCE_CLEANUP_ON_DISCONNECT" default:"true"`
	MaxConnections              int           `env:"MAX_CONNECTIONS" default:"10000"`
	ConnectRateLimit            float64       `env:"CONNECT_RATE_LIMIT" default:"5"`
	ConnectRateBurst            int           `env:"CONNECT_RATE_BURST" default:"20"`
	PushAllowedOrigins          string        `env:"PUSH_ALLOWED_ORIGINS"`

	SessionSecret string `env:"SESSION_SECRET"`
	NotifyToken   string `env:"NOTIFY_TOKEN"`

	DatabaseURL     string        `env:"DATABASE_URL"`
	DatabaseMigrate bool          `env:"DATABASE_MIGRATE" default:"false"`
	RedisURL        string        `env:"REDIS_URL"`
	UserCacheTTL    time.Duration `env:"USER_CACHE_TTL" default:"5m"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// AllowedOrigins returns the comma-separated PUSH_ALLOWED_ORIGINS as a list.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.PushAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}

	switch cfg.PushBackend {
	case PushBackendWebSocket, PushBackendSSE:
	default:
		return fmt.Errorf("PUSH_BACKEND must be %q or %q, got %q", PushBackendWebSocket, PushBackendSSE, cfg.PushBackend)
	}

	switch cfg.SessionAddressing {
	case AddressingNewest, AddressingAll:
	default:
		return fmt.Errorf("SESSION_ADDRESSING must be %q or %q, got %q", AddressingNewest, AddressingAll, cfg.SessionAddressing)
	}

	if cfg.PingInterval < time.Second {
		return fmt.Errorf("PING_INTERVAL must be at least 1s, got %s", cfg.PingInterval)
	}

	if cfg.MaxConnections < 1 {
		return errors.New("MAX_CONNECTIONS must be positive")
	}

	for _, origin := range cfg.AllowedOrigins() {
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("PUSH_ALLOWED_ORIGINS entry %q is not an origin like https://host", origin)
		}
	}

	if cfg.IsProduction() {
		if cfg.NotifyToken == "" {
			return errors.New("NOTIFY_TOKEN is required in production")
		}
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	if databaseURL == "" {
		return ""
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
