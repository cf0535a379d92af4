// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8000"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "chatvault"
	DefaultPGSSLMode         = "disable"
	DefaultNamesDriver       = "postgres"
	DefaultSQLitePath        = "data/chat_names.db"
	DefaultPeriskopeBaseURL  = "https://api.periskope.app/v1/"
	DefaultPeriskopeTimeout  = "5s"
	DefaultPeriskopeListWait = "30s"
	DefaultIngestTopic       = "periskope.events"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Storage   StorageConfig   `toml:"storage"`
	Periskope PeriskopeConfig `toml:"periskope"`
	Cache     CacheConfig     `toml:"cache"`
	Access    AccessConfig    `toml:"access"`
	Message   MessageConfig   `toml:"message"`
	Ingest    IngestConfig    `toml:"ingest"`
	Webhook   WebhookConfig   `toml:"webhook"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// StorageConfig selects the chat name store backend ("postgres" or "sqlite").
type StorageConfig struct {
	NamesDriver string `toml:"names_driver"`
	SQLitePath  string `toml:"sqlite_path"`
}

// PeriskopeConfig holds the upstream messaging API endpoint and credentials.
type PeriskopeConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	OrgPhone    string  `toml:"org_phone"`
	Timeout     string  `toml:"timeout"`
	ListTimeout string  `toml:"list_timeout"`
	RateLimit   float64 `toml:"rate_limit"`
	Burst       int     `toml:"burst"`
}

// Enabled reports whether credentials are present for upstream lookups.
func (c PeriskopeConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.OrgPhone) != ""
}

// CacheConfig controls the chat name cache and its bulk refresh.
type CacheConfig struct {
	HotSize          int    `toml:"hot_size"`
	ResolveTimeout   string `toml:"resolve_timeout"`
	RefreshOnStartup bool   `toml:"refresh_on_startup"`
	StartupDelay     string `toml:"startup_delay"`
	RefreshCron      string `toml:"refresh_cron"`
	RefreshTimeout   string `toml:"refresh_timeout"`
}

// AccessConfig controls the permission gate.
type AccessConfig struct {
	QueryTimeout string `toml:"query_timeout"`
}

// MessageConfig controls the message store.
type MessageConfig struct {
	Timeout      string `toml:"timeout"`
	DefaultLimit int    `toml:"default_limit"`
	MaxLimit     int    `toml:"max_limit"`
}

// IngestConfig selects the webhook event bus ("memory" or "amqp").
type IngestConfig struct {
	Broker         string `toml:"broker"`
	AMQPURL        string `toml:"amqp_url"`
	Topic          string `toml:"topic"`
	MaxRetries     int    `toml:"max_retries"`
	HandlerTimeout string `toml:"handler_timeout"`
}

// WebhookConfig holds the webhook signing secret. Empty disables verification.
type WebhookConfig struct {
	SigningSecret string `toml:"signing_secret"`
}

// Duration parses value as a time.Duration, returning fallback when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
// Secrets may be supplied through the environment instead of the file.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			NamesDriver: DefaultNamesDriver,
			SQLitePath:  DefaultSQLitePath,
		},
		Periskope: PeriskopeConfig{
			BaseURL:     DefaultPeriskopeBaseURL,
			Timeout:     DefaultPeriskopeTimeout,
			ListTimeout: DefaultPeriskopeListWait,
			RateLimit:   10,
			Burst:       5,
		},
		Cache: CacheConfig{
			HotSize:        10000,
			ResolveTimeout: "10s",
			StartupDelay:   "3s",
			RefreshTimeout: "10m",
		},
		Access: AccessConfig{
			QueryTimeout: "5s",
		},
		Message: MessageConfig{
			Timeout:      "10s",
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Ingest: IngestConfig{
			Broker:         "memory",
			Topic:          DefaultIngestTopic,
			MaxRetries:     3,
			HandlerTimeout: "30s",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PERISKOPE_API_KEY")); v != "" {
		cfg.Periskope.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PERISKOPE_ORG_PHONE")); v != "" {
		cfg.Periskope.OrgPhone = v
	}
	if v := strings.TrimSpace(os.Getenv("PERISKOPE_SIGNING_SECRET")); v != "" {
		cfg.Webhook.SigningSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
}
