package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

var rmCmd = &cobra.Command{
	Use:     "rm <identifier>...",
	Aliases: []string{"delete"},
	Short:   "Delete knowledge objects",
	GroupID: "core",
	Long: `Rm deletes knowledge objects from the store.

An identifier without a version deletes every version of the object.
Deleting an object that does not exist succeeds.

Examples:
  shelf rm ark:/naan/name/v1
  shelf rm ark:/naan/name`,
	Args:              cobra.MinimumNArgs(1),
	RunE:              runRm,
	ValidArgsFunction: completeIdentifiers,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	ids := make([]shelf.Identifier, 0, len(args))
	for _, a := range args {
		id, err := shelf.ParseIdentifier(a)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	s, err := newShelf()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	}
	return nil
}
