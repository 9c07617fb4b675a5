package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the shelf CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	// Store is a directory, file:// URL, or http(s) Fedora repository URL.
	Store    string       `mapstructure:"store"`
	User     string       `mapstructure:"user"`
	Password string       `mapstructure:"password"`
	Progress string       `mapstructure:"progress"`
	Import   ImportConfig `mapstructure:"import"`
	Export   ExportConfig `mapstructure:"export"`
	Log      LogConfig    `mapstructure:"log"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level"`
}

// ImportConfig holds archive extraction settings.
type ImportConfig struct {
	TempDir      string `mapstructure:"tempdir"`
	MaxFiles     int    `mapstructure:"max-files"`
	MaxTotalSize int64  `mapstructure:"max-total-size"`
	MaxFileSize  int64  `mapstructure:"max-file-size"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Load decodes the effective settings held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
