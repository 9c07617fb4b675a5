package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var watchIgnore []string

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Report changes in a directory store",
	GroupID: "store",
	Long: `Watch prints changes made under the root of a directory store until
interrupted. Hidden entries, such as in-flight transactions, are not
reported. Repository stores cannot be watched.

Examples:
  shelf watch
  shelf watch --ignore '**/*.log' --ignore '**/node_modules/**'`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringArrayVar(&watchIgnore, "ignore", nil, "Ignore paths matching this glob (repeatable)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	s, err := newShelf()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	events, err := s.Watch(ctx, watchIgnore...)
	if err != nil {
		return err
	}
	for ev := range events {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %-6s %s\n", time.Now().Format(time.TimeOnly), ev.Op, ev.Path)
	}
	return nil
}
