package cli

import (
	"github.com/spf13/cobra"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

var catCmd = &cobra.Command{
	Use:     "cat <identifier> <path>",
	Short:   "Output a file from a knowledge object",
	GroupID: "core",
	Long: `Cat outputs the contents of a single file stored in a knowledge object.

Examples:
  shelf cat ark:/naan/name/v1 deployment.yaml
  shelf cat naan/name/v1 src/index.js > index.js`,
	Args:              cobra.ExactArgs(2),
	RunE:              runCat,
	ValidArgsFunction: completeObjectFiles,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	id, err := shelf.ParseIdentifier(args[0])
	if err != nil {
		return err
	}

	s, err := newShelf()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	data, err := s.GetBinary(ctx, id, args[1])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
