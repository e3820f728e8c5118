// Package config loads environment-based configuration for the moltbot
// CLI.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/luuman/moltbot/xiaomi"
)

// Config holds all environment-based configuration.
type Config struct {
	// CloudServer is the Xiaomi cloud region id: cn, de, i2, ru, sg, us.
	CloudServer string `env:"XIAOMI_CLOUD_SERVER" envDefault:"cn"`

	// ClientID overrides the OAuth2 client id. Leave empty to use the
	// Home Assistant integration id the library defaults to.
	ClientID string `env:"XIAOMI_CLIENT_ID"`

	// RedirectURL overrides the OAuth2 redirect target.
	RedirectURL string `env:"XIAOMI_REDIRECT_URL"`

	// StorageDir overrides where the credential file lives. Defaults to
	// ~/.moltbot/xiaomi/.
	StorageDir string `env:"XIAOMI_STORAGE_DIR"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
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

	// Resolve StorageDir to an absolute path at startup so later chdir
	// calls cannot move the credential file.
	if cfg.StorageDir != "" {
		absDir, err := filepath.Abs(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("resolving storage dir to absolute path: %w", err)
		}

		cfg.StorageDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, ok := xiaomi.CloudServers[c.CloudServer]; !ok {
		return fmt.Errorf("XIAOMI_CLOUD_SERVER must be one of cn, de, i2, ru, sg, us, got %q", c.CloudServer)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
