package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvDataDir  = "OUTREACH_DATA_DIR"
	EnvPort     = "OUTREACH_PORT"
	EnvLogLevel = "OUTREACH_LOG_LEVEL"
	EnvDatabase = "DATABASE_URL"
)

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// DataDir returns the data directory from the environment, or ".".
func DataDir() string {
	if d := strings.TrimSpace(os.Getenv(EnvDataDir)); d != "" {
		return d
	}
	return "."
}

// OverlayEnv applies environment overrides to cfg. A postgres DATABASE_URL
// switches the store driver.
func OverlayEnv(cfg *Config, getenv func(string) string) {
	if d := strings.TrimSpace(getenv(EnvDataDir)); d != "" {
		cfg.App.DataDir = d
	}
	if p, err := strconv.Atoi(strings.TrimSpace(getenv(EnvPort))); err == nil && p > 0 {
		cfg.App.Port = p
	}
	if l := strings.TrimSpace(getenv(EnvLogLevel)); l != "" {
		cfg.App.LogLevel = l
	}
	if dsn := strings.TrimSpace(getenv(EnvDatabase)); dsn != "" {
		cfg.Database.DSN = dsn
		if IsPostgresURL(dsn) {
			cfg.Database.Driver = "postgres"
		}
	}
}

func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
