// Package config loads the service configuration from defaults, an optional
// TOML file and ALUMNET_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "ALUMNET_"

// Config represents the application configuration
type Config struct {
	HTTP struct {
		Addr         string        `koanf:"addr"`
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
	} `koanf:"http"`

	Database struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"database"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Relay struct {
		Backend          string `koanf:"backend"`
		SubscriberBuffer int    `koanf:"subscriber_buffer"`
	} `koanf:"relay"`

	Index struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"index"`

	Auth struct {
		JWTSecret string        `koanf:"jwt_secret"`
		Issuer    string        `koanf:"issuer"`
		TokenTTL  time.Duration `koanf:"token_ttl"`
	} `koanf:"auth"`

	Retry struct {
		MaxRetries int           `koanf:"max_retries"`
		BaseDelay  time.Duration `koanf:"base_delay"`
		MaxDelay   time.Duration `koanf:"max_delay"`
	} `koanf:"retry"`

	Log struct {
		Development bool `koanf:"development"`
	} `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http.addr":               ":8080",
		"http.read_timeout":       "10s",
		"http.write_timeout":      "10s",
		"database.driver":         DriverPostgres,
		"database.dsn":            "host=localhost user=user password=password dbname=alumnetdb port=5432 sslmode=disable",
		"redis.addr":              "localhost:6379",
		"redis.password":          "",
		"redis.db":                0,
		"relay.backend":           BackendRedis,
		"relay.subscriber_buffer": DefaultSubscriberBuffer,
		"index.ttl":               DefaultIndexTTL.String(),
		"auth.issuer":             "alumnet-service",
		"auth.token_ttl":          "72h",
		"retry.max_retries":       3,
		"retry.base_delay":        "200ms",
		"retry.max_delay":         "5s",
		"log.development":         false,
	}
}

// Load reads configuration. An empty configPath falls back to $ALUMNET_CONFIG and
// then ./alumnet.toml; a missing default file is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "CONFIG")
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config %s: %w", configPath, err)
		}
	} else if _, err := os.Stat("./alumnet.toml"); err == nil {
		if err := k.Load(file.Provider("./alumnet.toml"), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config ./alumnet.toml: %w", err)
		}
	}

	// ALUMNET_AUTH__JWT_SECRET -> auth.jwt_secret
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch cfg.Relay.Backend {
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis relay backend")
		}
	case BackendPostgres:
		if cfg.Database.Driver != DriverPostgres {
			return fmt.Errorf("postgres relay backend requires the postgres database driver")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported relay backend %q", cfg.Relay.Backend)
	}

	if cfg.Relay.SubscriberBuffer <= 0 {
		return fmt.Errorf("relay subscriber_buffer must be positive")
	}
	if cfg.Index.TTL < 0 {
		return fmt.Errorf("index ttl must not be negative")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive")
	}
	return nil
}
