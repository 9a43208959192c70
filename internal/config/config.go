package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for garmin-sync.
type Config struct {
	// Garmin account credentials. Required by the login subcommand and by
	// the garmin_login tool; the daemon itself can start without them and
	// rely on a previously stored session.
	Email    string `env:"GARMIN_EMAIL"`
	Password string `env:"GARMIN_PASSWORD"`

	// Domain selects the Garmin instance: garmin.com or garmin.cn.
	Domain string `env:"GARMIN_DOMAIN" envDefault:"garmin.com"`

	// TokenDir overrides where the token pair is stored. Empty means
	// ~/.garmin-sync.
	TokenDir string `env:"GARMIN_TOKEN_DIR"`

	// TokenBackend selects the persistence backend: "file" for two JSON
	// documents, "bolt" for a single bbolt database.
	TokenBackend string `env:"GARMIN_TOKEN_BACKEND" envDefault:"file"`

	// StorePassphrase, when set, encrypts stored tokens at rest. Applies
	// to the file backend only.
	StorePassphrase string `env:"GARMIN_STORE_KEY"`

	// Consumer override. Both or neither; when unset the shared consumer
	// is fetched from its distribution endpoint.
	ConsumerKey    string `env:"GARMIN_CONSUMER_KEY"`
	ConsumerSecret string `env:"GARMIN_CONSUMER_SECRET"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// MCP server settings.
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8090"`

	// AuthWaitTimeout bounds how long data tools wait for an interactive
	// login before failing.
	AuthWaitTimeout time.Duration `env:"AUTH_WAIT_TIMEOUT" envDefault:"5m"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve TokenDir to an absolute path at startup so the daemon and the
	// login subcommand agree on the location regardless of working
	// directory.
	if cfg.TokenDir != "" {
		absDir, err := filepath.Abs(cfg.TokenDir)
		if err != nil {
			return nil, fmt.Errorf("resolving token dir to absolute path: %w", err)
		}

		cfg.TokenDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Domain != "garmin.com" && c.Domain != "garmin.cn" {
		return fmt.Errorf("GARMIN_DOMAIN must be garmin.com or garmin.cn, got %q", c.Domain)
	}

	if c.TokenBackend != "file" && c.TokenBackend != "bolt" {
		return fmt.Errorf("GARMIN_TOKEN_BACKEND must be file or bolt, got %q", c.TokenBackend)
	}

	// A consumer override is a pair; half an override would sign requests
	// with mismatched credentials.
	if (c.ConsumerKey == "") != (c.ConsumerSecret == "") {
		return fmt.Errorf("GARMIN_CONSUMER_KEY and GARMIN_CONSUMER_SECRET must be set together")
	}

	if c.StorePassphrase != "" && c.TokenBackend != "file" {
		return fmt.Errorf("GARMIN_STORE_KEY applies to the file backend only")
	}

	if c.AuthWaitTimeout <= 0 {
		return fmt.Errorf("AUTH_WAIT_TIMEOUT must be positive")
	}

	return nil
}

// HasCredentials reports whether a scripted login is possible.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
