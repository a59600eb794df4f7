// Package config provides configuration loading for the twofad server.
//
// Precedence, lowest to highest: built-in defaults, an optional TOML file,
// then TWOFAD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// Config is the complete server configuration.
type Config struct {
	// Listen is the TCP address the protocol server binds.
	Listen string `toml:"listen" env:"TWOFAD_LISTEN"`

	// Admin is the HTTP address for the diagnostics API; empty disables it.
	Admin string `toml:"admin" env:"TWOFAD_ADMIN"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" env:"TWOFAD_LOG_LEVEL"`

	// Hasher selects the password digest: sha256 or argon2id.
	Hasher string `toml:"hasher" env:"TWOFAD_HASHER"`

	Storage StorageConfig `toml:"storage"`
	Pending PendingConfig `toml:"pending"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	// Backend is one of bbolt, sqlite, postgres, memory.
	Backend string `toml:"backend" env:"TWOFAD_STORAGE_BACKEND"`

	// Path is the database file for the bbolt and sqlite backends.
	Path string `toml:"path" env:"TWOFAD_STORAGE_PATH"`

	// DSN is the connection string for the postgres backend.
	DSN string `toml:"dsn" env:"TWOFAD_STORAGE_DSN"`
}

// PendingConfig bounds the lifetime of unredeemed pairing tokens and
// unanswered notification prompts.
type PendingConfig struct {
	PairingTTL      Duration `toml:"pairing_ttl" env:"TWOFAD_PAIRING_TTL"`
	NotificationTTL Duration `toml:"notification_ttl" env:"TWOFAD_NOTIFICATION_TTL"`
}

// Duration decodes "5m"-style strings from both TOML and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	return d.UnmarshalText([]byte(repl))
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:   ":27701",
		Admin:    "",
		LogLevel: "info",
		Hasher:   "sha256",
		Storage: StorageConfig{
			Backend: "bbolt",
			Path:    "twofad.db",
		},
		Pending: PendingConfig{
			PairingTTL:      Duration(5 * time.Minute),
			NotificationTTL: Duration(2 * time.Minute),
		},
	}
}

// Load builds the effective configuration. path may be empty; a missing
// file at an explicitly given path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found", path)
			}
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// envdecode errors only when a tagged field is required and unset;
	// all fields here are optional overrides.
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.Hasher {
	case "sha256", "argon2id":
	default:
		return fmt.Errorf("unknown hasher %q", c.Hasher)
	}
	switch c.Storage.Backend {
	case "memory":
	case "bbolt", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("%s backend requires storage.path", c.Storage.Backend)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("postgres backend requires storage.dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Pending.PairingTTL <= 0 || c.Pending.NotificationTTL <= 0 {
		return errors.New("pending TTLs must be positive")
	}
	return nil
}
