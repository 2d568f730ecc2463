package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines hubsyncd configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
}

// Duration accepts Go duration strings ("30s", "1m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	JWTSecret       string   `yaml:"jwtSecret"`
	RateLimitMax    int      `yaml:"rateLimitMax"`
	RateLimitWindow Duration `yaml:"rateLimitWindow"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes"`
	// WatchOrigins are the origin patterns allowed to open the watch
	// stream from a browser.
	WatchOrigins []string `yaml:"watchOrigins"`
}

type StoreConfig struct {
	// BackendDSN selects the durable document backend: a file:// path,
	// memory://, or a postgres:// connection string. Empty means the
	// document lives in memory only.
	BackendDSN string `yaml:"backendDsn"`
	// StateFile is a plain-path shorthand for a file:// backend and loses
	// to BackendDSN when both are set.
	StateFile string `yaml:"stateFile"`
}

// Load reads configuration from an optional YAML file named by
// HUBSYNC_CONFIG_PATH, then applies HUBSYNC_* environment overrides.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimitWindow: Duration(time.Minute),
		},
	}

	if path := strings.TrimSpace(os.Getenv("HUBSYNC_CONFIG_PATH")); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if addr := os.Getenv("HUBSYNC_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if secret := os.Getenv("HUBSYNC_JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if raw := os.Getenv("HUBSYNC_RATE_LIMIT_MAX"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUBSYNC_RATE_LIMIT_MAX: %w", err)
		}
		cfg.Server.RateLimitMax = value
	}
	if raw := os.Getenv("HUBSYNC_RATE_LIMIT_WINDOW"); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUBSYNC_RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.Server.RateLimitWindow = Duration(value)
	}
	if raw := os.Getenv("HUBSYNC_MAX_BODY_BYTES"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUBSYNC_MAX_BODY_BYTES: %w", err)
		}
		cfg.Server.MaxBodyBytes = value
	}
	if raw := os.Getenv("HUBSYNC_WATCH_ORIGINS"); raw != "" {
		cfg.Server.WatchOrigins = splitList(raw)
	}
	if dsn := os.Getenv("HUBSYNC_BACKEND_DSN"); dsn != "" {
		cfg.Store.BackendDSN = dsn
	}
	if path := os.Getenv("HUBSYNC_STATE_FILE"); path != "" {
		cfg.Store.StateFile = path
	}

	return cfg, nil
}

// DocumentDSN resolves the effective backend DSN, preferring BackendDSN
// over the StateFile shorthand.
func (c Config) DocumentDSN() string {
	if dsn := strings.TrimSpace(c.Store.BackendDSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(c.Store.StateFile)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
