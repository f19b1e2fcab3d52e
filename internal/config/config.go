// Package config loads application configuration from defaults, an optional
// YAML file and INCIDENTS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys are separated by a double underscore, e.g.
// INCIDENTS_STORE__COLLECTION sets store.collection.
const EnvPrefix = "INCIDENTS_"

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverNATSKV   = "natskv"
)

// Notification drivers.
const (
	NotificationDriverNATS    = "nats"
	NotificationDriverWebhook = "webhook"
	NotificationDriverSlack   = "slack"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Store         StoreConfig         `koanf:"store"`
	Database      DatabaseConfig      `koanf:"database"`
	NATS          NATSConfig          `koanf:"nats"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Auth          AuthConfig          `koanf:"auth"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig selects and configures the incident record store.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	// Collection names the record collection: a row namespace in PostgreSQL
	// or a bucket in NATS KV.
	Collection    string `koanf:"collection"`
	PageSize      int    `koanf:"page_size"`
	UpdateRetries int    `koanf:"update_retries"`
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// NATSConfig configures the shared NATS connection.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	Name           string        `koanf:"name"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// NotificationsConfig configures the incident-created publisher.
type NotificationsConfig struct {
	Driver string `koanf:"driver"`
	// Target is the notification channel: a NATS subject or a webhook URL.
	Target    string        `koanf:"target"`
	JetStream bool          `koanf:"jetstream"`
	Stream    string        `koanf:"stream"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
	Username  string        `koanf:"username"`
	IconURL   string        `koanf:"icon_url"`
}

// AuthConfig configures API key authentication. Empty APIKeys disables it.
type AuthConfig struct {
	APIKeys []string `koanf:"api_keys"`
}

// Default returns configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:        StoreDriverPostgres,
			PageSize:      100,
			UpdateRetries: 5,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Name:           "incident-tracker",
			ConnectTimeout: 5 * time.Second,
		},
		Notifications: NotificationsConfig{
			Driver:   NotificationDriverNATS,
			Timeout:  10 * time.Second,
			Username: "Incident Tracker",
		},
	}
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists are convenient in the environment.
	if raw := os.Getenv(EnvPrefix + "AUTH__API_KEYS"); raw != "" {
		cfg.Auth.APIKeys = splitList(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks required settings. A missing store collection or
// notification target is fatal at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection is required"))
	}
	if c.Notifications.Target == "" {
		errs = append(errs, errors.New("notifications.target is required"))
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres store"))
		}
	case StoreDriverNATSKV:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the natskv store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of: %s, %s", StoreDriverPostgres, StoreDriverNATSKV))
	}

	switch c.Notifications.Driver {
	case NotificationDriverNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the nats notification driver"))
		}
		if c.Notifications.JetStream && c.Notifications.Stream == "" {
			errs = append(errs, errors.New("notifications.stream is required when jetstream is enabled"))
		}
	case NotificationDriverWebhook, NotificationDriverSlack:
	default:
		errs = append(errs, fmt.Errorf("notifications.driver must be one of: %s, %s, %s",
			NotificationDriverNATS, NotificationDriverWebhook, NotificationDriverSlack))
	}

	if c.Store.PageSize <= 0 {
		errs = append(errs, errors.New("store.page_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UsesNATS reports whether any component needs the shared NATS connection.
func (c *Config) UsesNATS() bool {
	return c.Store.Driver == StoreDriverNATSKV || c.Notifications.Driver == NotificationDriverNATS
}
