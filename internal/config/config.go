// Package config loads fintrack settings.
//
// Values are layered: Defaults, then an optional YAML file, then the
// environment (a .env file in the working directory is read first when
// present). Validate reports every problem at once.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// MinBcryptCost mirrors the lower bound enforced by the auth service.
const MinBcryptCost = 12

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
	AMQP    AMQPConfig    `yaml:"amqp"`

	// SessionPurgeInterval is how often expired sessions are deleted.
	SessionPurgeInterval time.Duration `yaml:"session_purge_interval"`
	// DevSeed creates a demo user with sample data on startup.
	DevSeed bool `yaml:"dev_seed"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int32  `yaml:"max_conns"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	Issuer        string        `yaml:"issuer"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Defaults returns a config that only lacks the token secrets.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend:    BackendMemory,
			MaxConns:   10,
			SQLitePath: "./data/fintrack.db",
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 8 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			BcryptCost: MinBcryptCost,
			Issuer:     "fintrack",
		},
		AMQP:                 AMQPConfig{Exchange: "fintrack"},
		SessionPurgeInterval: time.Hour,
	}
}

// Load builds the config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables. A variable that is set but
// unparsable is an error rather than silently ignored.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var problems []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, set func(int)) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", key, err))
				return
			}
			set(n)
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				problems = append(problems, fmt.Errorf("%s: invalid boolean %q", key, v))
			}
		}
	}

	str(&c.Storage.Backend, "FINTRACK_BACKEND")
	str(&c.Storage.DatabaseURL, "FINTRACK_DATABASE_URL", "DATABASE_URL")
	str(&c.Storage.SQLitePath, "FINTRACK_SQLITE_PATH")
	integer("FINTRACK_DB_MAX_CONNS", func(n int) { c.Storage.MaxConns = int32(n) })

	str(&c.HTTP.Addr, "FINTRACK_HTTP_ADDR")
	if port, ok := lookup("PORT"); ok && port != "" && c.HTTP.Addr == Defaults().HTTP.Addr {
		c.HTTP.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	dur(&c.HTTP.ReadTimeout, "FINTRACK_HTTP_READ_TIMEOUT")
	dur(&c.HTTP.WriteTimeout, "FINTRACK_HTTP_WRITE_TIMEOUT")
	dur(&c.HTTP.IdleTimeout, "FINTRACK_HTTP_IDLE_TIMEOUT")
	dur(&c.HTTP.RequestTimeout, "FINTRACK_REQUEST_TIMEOUT")

	str(&c.Log.Level, "FINTRACK_LOG_LEVEL", "LOG_LEVEL")
	str(&c.Log.Format, "FINTRACK_LOG_FORMAT", "LOG_FORMAT")

	str(&c.Auth.AccessSecret, "JWT_ACCESS_SECRET", "JWT_SECRET")
	str(&c.Auth.RefreshSecret, "JWT_REFRESH_SECRET")
	dur(&c.Auth.AccessTTL, "FINTRACK_ACCESS_TTL")
	dur(&c.Auth.RefreshTTL, "FINTRACK_REFRESH_TTL")
	integer("FINTRACK_BCRYPT_COST", func(n int) { c.Auth.BcryptCost = n })
	str(&c.Auth.Issuer, "FINTRACK_TOKEN_ISSUER")

	str(&c.AMQP.URL, "FINTRACK_AMQP_URL", "AMQP_URL")
	str(&c.AMQP.Exchange, "FINTRACK_AMQP_EXCHANGE", "AMQP_EXCHANGE")

	dur(&c.SessionPurgeInterval, "FINTRACK_SESSION_PURGE_INTERVAL")
	boolean(&c.DevSeed, "FINTRACK_DEV_SEED")
	if !c.DevSeed {
		boolean(&c.DevSeed, "DEV_SEED")
	}

	return errors.Join(problems...)
}

// Validate checks the whole config and lists every problem found.
func (c Config) Validate() error {
	var problems []string

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for the postgres backend")
		}
		if c.Storage.MaxConns < 1 {
			problems = append(problems, fmt.Sprintf("storage.max_conns %d: must be at least 1", c.Storage.MaxConns))
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path is required for the sqlite backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q: must be one of %s, %s or %s",
			c.Storage.Backend, BackendMemory, BackendPostgres, BackendSQLite))
	}

	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"http.request_timeout", c.HTTP.RequestTimeout},
	} {
		if t.d <= 0 {
			problems = append(problems, t.name+" must be positive")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q: must be json or text", c.Log.Format))
	}

	a := c.Auth
	if a.AccessSecret == "" {
		problems = append(problems, "auth.access_secret (JWT_ACCESS_SECRET) is required")
	}
	if a.RefreshSecret == "" {
		problems = append(problems, "auth.refresh_secret (JWT_REFRESH_SECRET) is required")
	}
	if a.AccessSecret != "" && a.AccessSecret == a.RefreshSecret {
		problems = append(problems, "auth.access_secret and auth.refresh_secret must differ")
	}
	if a.AccessTTL <= 0 {
		problems = append(problems, "auth.access_ttl must be positive")
	}
	if a.RefreshTTL <= 0 {
		problems = append(problems, "auth.refresh_ttl must be positive")
	}
	if a.BcryptCost < MinBcryptCost || a.BcryptCost > 31 {
		problems = append(problems, fmt.Sprintf("auth.bcrypt_cost %d: must be between %d and 31", a.BcryptCost, MinBcryptCost))
	}

	if c.AMQP.URL != "" {
		if u, err := url.Parse(c.AMQP.URL); err != nil {
			problems = append(problems, fmt.Sprintf("amqp.url: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("amqp.url scheme %q: must be amqp or amqps", u.Scheme))
		}
		if c.AMQP.Exchange == "" {
			problems = append(problems, "amqp.exchange is required when amqp.url is set")
		}
	}

	if c.SessionPurgeInterval < time.Second {
		problems = append(problems, fmt.Sprintf("session_purge_interval %v: must be at least 1s", c.SessionPurgeInterval))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}
