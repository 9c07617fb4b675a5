package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

var (
	exportOutput string
	exportList   bool
)

var exportCmd = &cobra.Command{
	Use:     "export <identifier>",
	Short:   "Export a knowledge object as a zip archive",
	GroupID: "core",
	Long: `Export writes a stored knowledge object as a zip archive.

The archive is rooted at a directory named after the identifier, for
example naan-name-v1/. Without --output the archive goes to standard output.

Examples:
  shelf export ark:/naan/name/v1 -o naan-name-v1.zip
  shelf export naan/name/v1 > naan-name-v1.zip
  shelf export --list ark:/naan/name/v1`,
	Args:              cobra.ExactArgs(1),
	RunE:              runExport,
	ValidArgsFunction: completeIdentifiers,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write the archive to this file")
	exportCmd.Flags().BoolVar(&exportList, "list", false, "List archive entries without exporting")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
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

	if exportList {
		names, err := s.ExportEntries(ctx, id)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	}

	callback, finish := newProgress("Exporting")
	defer finish()
	opts := []shelf.ExportOption{shelf.WithExportProgress(callback)}

	if exportOutput == "" {
		return s.ExportArchive(ctx, id, cmd.OutOrStdout(), opts...)
	}

	//nolint:gosec // G304: exportOutput is a user-provided CLI argument
	f, err := os.Create(exportOutput)
	if err != nil {
		return err
	}
	if err := s.ExportArchive(ctx, id, f, opts...); err != nil {
		f.Close()
		os.Remove(exportOutput)
		return err
	}
	return f.Close()
}
