// Package config loads the server configuration.
//
// LAYERING (lowest to highest priority):
//  1. Defaults: defaultConfig(), loaded through koanf's structs provider
//  2. Config file: optional YAML at $CONFIG_PATH, else ./config.yaml if present
//  3. Environment: the variables listed in envKeys, after .env is loaded
//
// So ENV > file > defaults. A deployment can run on environment variables
// alone; the file exists for local setups that want everything in one place.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the variable that points at a YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

const defaultConfigFile = "config.yaml"

// MinJWTSecretLength matches what auth.NewTokenService accepts.
const MinJWTSecretLength = 16

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Storage  StorageConfig  `koanf:"storage"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
	Events   EventsConfig   `koanf:"events"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	SecureCookies   bool          `koanf:"secure_cookies"`
	AuthRateLimit   int           `koanf:"auth_rate_limit"` // requests per minute per IP on register/login; 0 disables
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type StorageConfig struct {
	UploadDir string `koanf:"upload_dir"`
}

type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenTTL    time.Duration `koanf:"token_ttl"`
	AdminEmails []string      `koanf:"admin_emails"` // promoted to admin at startup if registered
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

type EventsConfig struct {
	Buffer int64 `koanf:"buffer"` // gochannel output buffer per subscriber
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			CORSOrigins:     []string{"http://localhost:3000"},
			AuthRateLimit:   20,
			MaxUploadBytes:  20 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: "data/resources.db"},
		Storage:  StorageConfig{UploadDir: "uploads"},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour, AdminEmails: []string{}},
		Log:      LogConfig{Level: "info", Format: "text"},
		Events:   EventsConfig{Buffer: 64},
	}
}

// envKeys maps the supported environment variables to koanf paths.
// Anything not listed is ignored, so unrelated variables in the process
// environment never leak into the config.
var envKeys = map[string]string{
	"PORT":             "server.port",
	"CORS_ORIGINS":     "server.cors_origins",
	"SECURE_COOKIES":   "server.secure_cookies",
	"AUTH_RATE_LIMIT":  "server.auth_rate_limit",
	"MAX_UPLOAD_BYTES": "server.max_upload_bytes",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	"DB_PATH":          "database.path",
	"UPLOAD_DIR":       "storage.upload_dir",
	"JWT_SECRET":       "auth.jwt_secret",
	"JWT_TTL":          "auth.token_ttl",
	"ADMIN_EMAILS":     "auth.admin_emails",
	"LOG_LEVEL":        "log.level",
	"LOG_FORMAT":       "log.format",
	"EVENTS_BUFFER":    "events.buffer",
}

// listKeys are the slice-valued paths an env var can set as "a,b,c".
var listKeys = []string{"server.cors_origins", "auth.admin_emails"}

func envTransform(key string) string {
	return envKeys[strings.ToUpper(key)]
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	// .env only seeds variables that aren't already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	// Environment values are plain strings; list settings are comma-separated.
	for _, key := range listKeys {
		if raw, ok := k.Get(key).(string); ok {
			if err := k.Set(key, splitList(raw)); err != nil {
				return nil, fmt.Errorf("config: setting %s: %w", key, err)
			}
		}
	}

	// koanf's default decoder turns "24h" into a Duration and "1" into an int.
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns $CONFIG_PATH, or config.yaml in the working
// directory if it exists, or "" when there is no file to load. An explicit
// CONFIG_PATH that doesn't exist is returned anyway so the load fails loudly.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	case c.Server.AuthRateLimit < 0:
		return errors.New("config: server.auth_rate_limit must not be negative")
	case c.Server.MaxUploadBytes <= 0:
		return errors.New("config: server.max_upload_bytes must be positive")
	case strings.TrimSpace(c.Database.Path) == "":
		return errors.New("config: database.path is required")
	case strings.TrimSpace(c.Storage.UploadDir) == "":
		return errors.New("config: storage.upload_dir is required")
	case len(c.Auth.JWTSecret) < MinJWTSecretLength:
		return fmt.Errorf("config: JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	case c.Auth.TokenTTL <= 0:
		return errors.New("config: auth.token_ttl must be positive")
	case c.Log.Format != "text" && c.Log.Format != "json":
		return fmt.Errorf("config: log.format %q must be text or json", c.Log.Format)
	case c.Events.Buffer < 0:
		return errors.New("config: events.buffer must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level. An empty level means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level %q: %w", l.Level, err)
	}
	return level, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
