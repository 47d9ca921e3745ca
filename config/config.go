package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// EnvToken is the primary environment variable for the API token.
	// GITHUB_TOKEN is honored as a fallback.
	EnvToken = "GH_OFFLINE_TOKEN"

	// EnvDatabasePath overrides the default database location.
	EnvDatabasePath = "GH_OFFLINE_DB"
)

// Config holds everything the CLI needs to wire up.
type Config struct {
	// GitHub API token. May be empty; sync requires it in practice.
	Token string

	// Path to the SQLite database file.
	DatabasePath string
}

// Load resolves configuration from a .env file (if present) and the
// environment. The database directory is created on demand.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Token = os.Getenv(EnvToken)
	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITHUB_TOKEN")
	}

	cfg.DatabasePath = os.Getenv(EnvDatabasePath)
	if cfg.DatabasePath == "" {
		path, err := defaultDatabasePath()
		if err != nil {
			return nil, err
		}
		cfg.DatabasePath = path
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

func defaultDatabasePath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine data directory: %w", err)
	}
	return filepath.Join(base, "gh-offline", "gh-offline.db"), nil
}
