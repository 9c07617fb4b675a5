// Package config provides configuration management for the shelf CLI.
package config

import (
	"os"
	"path/filepath"
)

// FileName is the name of the configuration file inside Dir.
const FileName = "config.yaml"

// Dir returns the shelf config directory.
// Uses XDG_CONFIG_HOME/shelf, defaulting to ~/.config/shelf.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "shelf"), nil
}

// Path returns the full path of the configuration file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// DataDir returns the default tree store location.
// Uses XDG_DATA_HOME/shelf, defaulting to ~/.local/share/shelf.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "shelf"), nil
}
