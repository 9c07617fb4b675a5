// Package cli implements the shelf command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
	"github.com/kgrid/kgrid-shelf-sub000/cmd/shelf/cli/config"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "Store and retrieve knowledge objects",
	Long: `Shelf imports, exports and inspects knowledge objects.

Objects live in a store: a local directory (the default) or a Fedora
repository reached over HTTP. Select the store with --store, the
SHELF_STORE environment variable, or the "store" config key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("store", "", "Store location: directory, file:// URL, or http(s) Fedora URL")
	flags.String("user", "", "Repository user name")
	flags.String("password", "", "Repository password")
	flags.String("progress", "auto", "Progress display: auto, tty, or plain")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logging")

	for _, key := range []string{"store", "user", "password", "progress"} {
		//nolint:errcheck // the flags exist
		viper.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Object commands:"},
		&cobra.Group{ID: "store", Title: "Store commands:"},
	)
	rootCmd.Version = version
}

// initConfig loads the config file and environment. A missing config file
// is not an error.
func initConfig() {
	viper.SetDefault("progress", "auto")
	viper.SetDefault("export.concurrency", 8)
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("import.max-files", shelf.DefaultExtractLimits.MaxFiles)
	viper.SetDefault("import.max-total-size", shelf.DefaultExtractLimits.MaxTotalSize)
	viper.SetDefault("import.max-file-size", shelf.DefaultExtractLimits.MaxFileSize)

	viper.SetEnvPrefix("SHELF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	path, err := config.Path()
	if err != nil {
		return
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: ignoring config file %s: %v\n", path, err)
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// newShelf creates a shelf over the configured store.
func newShelf() (*shelf.Shelf, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	store := cfg.Store
	if store == "" {
		if store, err = config.DataDir(); err != nil {
			return nil, fmt.Errorf("default store: %w", err)
		}
	}

	opts := []shelf.Option{
		shelf.WithStoreURL(store),
		shelf.WithUserAgent("shelf/" + version),
		shelf.WithExtractLimits(shelf.ExtractLimits{
			MaxFiles:     cfg.Import.MaxFiles,
			MaxTotalSize: cfg.Import.MaxTotalSize,
			MaxFileSize:  cfg.Import.MaxFileSize,
		}),
	}
	if cfg.User != "" {
		opts = append(opts, shelf.WithCredentials(cfg.User, cfg.Password))
	}
	if cfg.Import.TempDir != "" {
		opts = append(opts, shelf.WithTempDir(cfg.Import.TempDir))
	}
	if cfg.Export.Concurrency > 0 {
		opts = append(opts, shelf.WithExportConcurrency(cfg.Export.Concurrency))
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	if !verbose && cfg.Log.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
	}
	opts = append(opts, shelf.WithLogger(
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	))
	return shelf.NewShelf(opts...)
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// formatError converts shelf errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	case errors.Is(err, shelf.ErrUnauthorized):
		return "Error: authentication failed (check your credentials)"
	case errors.Is(err, shelf.ErrPathTraversal):
		return "Error: path traversal detected (security violation)"
	case errors.Is(err, shelf.ErrExtractLimits):
		return fmt.Sprintf("Error: archive exceeds extraction limits: %v", err)
	case errors.Is(err, shelf.ErrBadArchive):
		return fmt.Sprintf("Error: invalid or corrupt archive: %v", err)
	case errors.Is(err, shelf.ErrInvalidIdentifier):
		return fmt.Sprintf("Error: invalid identifier: %v", err)
	case errors.Is(err, shelf.ErrStoreUnavailable):
		return fmt.Sprintf("Error: store unavailable: %v", err)
	case errors.Is(err, shelf.ErrNotFound):
		return fmt.Sprintf("Error: not found: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
