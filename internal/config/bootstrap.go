package config

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
)

//go:embed defaults.yml
var defaultsYAML []byte

// EnsureUserConfig returns <dataDir>/config.yml, writing the defaults there first if it is missing.
func EnsureUserConfig(dataDir string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	_, err := os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(userPath, defaultsYAML, 0o644); err != nil {
		return "", err
	}
	return userPath, nil
}
