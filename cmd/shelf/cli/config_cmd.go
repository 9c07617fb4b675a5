package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
	"github.com/kgrid/kgrid-shelf-sub000/cmd/shelf/cli/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage shelf configuration",
	Long: `View and modify shelf configuration.

Without arguments, displays the current effective configuration.
Use subcommands to view the config path, initialize a config file,
or set configuration values.`,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := config.Path()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long: `Create a default configuration file at the XDG config path.

The file will be created at ~/.config/shelf/config.yaml (or
$XDG_CONFIG_HOME/shelf/config.yaml if set).`,
	RunE: runConfigInit,
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath, err := config.Path()
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(configPath), 0o750); mkdirErr != nil {
		return mkdirErr
	}

	store, err := config.DataDir()
	if err != nil {
		return err
	}
	defaultConfig := map[string]any{
		"store":    store,
		"progress": "auto",
		// user and password omitted - typically set via env vars for security
		"import": map[string]any{
			"max-files":      shelf.DefaultExtractLimits.MaxFiles,
			"max-total-size": shelf.DefaultExtractLimits.MaxTotalSize,
			"max-file-size":  shelf.DefaultExtractLimits.MaxFileSize,
		},
		"export": map[string]any{
			"concurrency": 8,
		},
		"log": map[string]any{
			"level": "warn",
		},
	}
	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if writeErr := os.WriteFile(configPath, data, 0o600); writeErr != nil {
		return writeErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", configPath)
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Examples:
  shelf config set store https://repo.example.org/fcrepo/rest
  shelf config set export.concurrency 4`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		parsedValue := parseValue(value)

		viper.Set(key, parsedValue)

		configPath, err := config.Path()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
			return err
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s = %v\n", key, parsedValue)
		return nil
	},
}

// parseValue turns booleans and integers into typed values.
func parseValue(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return value
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	settings := viper.AllSettings()
	// Never echo secrets.
	if _, ok := settings["password"]; ok {
		settings["password"] = "********"
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}
