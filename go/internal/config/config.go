// Package config loads the livecontrol configuration file and applies
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/livecontrol/go/internal/auth"
)

// Name is the base name looked up by Locate.
const Name = "livecontrol"

// Extensions are tried in this order in every search directory.
var Extensions = []string{".yaml", ".yml", ".toml", ".json"}

var ErrNotFound = errors.New("no config file found")

// Duration reads "15m" style strings from every supported format.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" json:"server"`
	Admin     AdminConfig     `yaml:"admin" toml:"admin" json:"admin"`
	JWT       JWTConfig       `yaml:"jwt" toml:"jwt" json:"jwt"`
	Locations LocationsConfig `yaml:"locations" toml:"locations" json:"locations"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis" json:"redis"`
	NATS      NATSConfig      `yaml:"nats" toml:"nats" json:"nats"`
	Sentry    SentryConfig    `yaml:"sentry" toml:"sentry" json:"sentry"`
	Log       LogConfig       `yaml:"log" toml:"log" json:"log"`
	Client    ClientConfig    `yaml:"client" toml:"client" json:"client"`

	// Source is the file the config was read from, if any.
	Source string `yaml:"-" toml:"-" json:"-"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr" toml:"addr" json:"addr"`
	// AllowedOrigins lists cross-origin browser callers; empty means same-origin only.
	AllowedOrigins  []string `yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
	InsecureCookies bool     `yaml:"insecure_cookies" toml:"insecure_cookies" json:"insecure_cookies"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// AdminConfig is the single admin account.
type AdminConfig struct {
	Username     string `yaml:"username" toml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash" json:"password_hash"`
}

type JWTConfig struct {
	Secret     string   `yaml:"secret" toml:"secret" json:"secret"`
	AccessTTL  Duration `yaml:"access_ttl" toml:"access_ttl" json:"access_ttl"`
	RefreshTTL Duration `yaml:"refresh_ttl" toml:"refresh_ttl" json:"refresh_ttl"`
}

// LocationsConfig points at the static directories and the request log.
// An empty Database disables request logging.
type LocationsConfig struct {
	Public    string `yaml:"public" toml:"public" json:"public"`
	Protected string `yaml:"protected" toml:"protected" json:"protected"`
	Database  string `yaml:"database" toml:"database" json:"database"`
}

// RedisConfig enables the Redis session store when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" toml:"url" json:"url"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" toml:"url" json:"url"`
	Subject string `yaml:"subject" toml:"subject" json:"subject"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn" toml:"dsn" json:"dsn"`
	Environment string `yaml:"environment" toml:"environment" json:"environment"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format" toml:"format" json:"format"`
}

// ClientConfig is used by the admin and viewer commands.
type ClientConfig struct {
	Origin       string   `yaml:"origin" toml:"origin" json:"origin"`
	Username     string   `yaml:"username" toml:"username" json:"username"`
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
	// Timeout bounds each REST call.
	Timeout     Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	LegacyLogin bool     `yaml:"legacy_login" toml:"legacy_login" json:"legacy_login"`
	// ApplyContentWhileActive lets pushed content replace the text of an
	// active row. Off by default so an active row is never overwritten.
	ApplyContentWhileActive bool `yaml:"apply_content_while_active" toml:"apply_content_while_active" json:"apply_content_while_active"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		JWT: JWTConfig{
			AccessTTL:  Duration{auth.DefaultAccessTTL},
			RefreshTTL: Duration{auth.DefaultRefreshTTL},
		},
		Locations: LocationsConfig{
			Public:    "static/public",
			Protected: "static/protected",
		},
		NATS: NATSConfig{
			Subject: "livecontrol.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Client: ClientConfig{
			Origin:       "http://localhost:8000",
			PollInterval: Duration{5 * time.Second},
			Timeout:      Duration{30 * time.Second},
		},
	}
}

// Locate finds <name>.<ext> in the working directory, the home directory
// and ~/.config, in that order.
func Locate(name string) (string, error) {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home, filepath.Join(home, ".config"))
	}
	return locateIn(name, dirs)
}

func locateIn(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		for _, ext := range Extensions {
			path := filepath.Join(dir, name+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", ErrNotFound
}

// Read parses the file at path on top of the defaults. The format is picked
// by suffix.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config file %s must be YAML, TOML or JSON", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// Load reads path, or the located config file when path is empty, then
// applies environment overrides. A missing config file is not an error when
// no path was given: defaults plus environment are used.
func Load(path string) (*Config, error) {
	if path == "" {
		located, err := Locate(Name)
		switch {
		case errors.Is(err, ErrNotFound):
			cfg := Default()
			cfg.ApplyEnv()
			return cfg, nil
		case err != nil:
			return nil, err
		}
		path = located
	}

	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides file values with the environment.
func (c *Config) ApplyEnv() {
	c.Server.Addr = getEnv("LIVECONTROL_ADDR", c.Server.Addr)
	c.JWT.Secret = getEnv("LIVECONTROL_JWT_SECRET", c.JWT.Secret)
	c.Admin.Username = getEnv("LIVECONTROL_ADMIN_USERNAME", c.Admin.Username)
	c.Admin.PasswordHash = getEnv("LIVECONTROL_ADMIN_PASSWORD_HASH", c.Admin.PasswordHash)
	c.Client.Origin = getEnv("LIVECONTROL_ORIGIN", c.Client.Origin)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Sentry.DSN = getEnv("SENTRY_DSN", c.Sentry.DSN)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate reports every problem that keeps the server from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Admin.Username == "" {
		errs = append(errs, errors.New("admin.username is required"))
	}
	if c.Admin.PasswordHash == "" {
		errs = append(errs, errors.New("admin.password_hash is required (see hashpwd)"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.JWT.AccessTTL.Duration <= 0 || c.JWT.RefreshTTL.Duration <= 0 {
		errs = append(errs, errors.New("jwt ttls must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "console" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", f))
	}
	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (zerolog.Level, error) {
	if c.Log.Level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
