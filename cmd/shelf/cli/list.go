package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

var listLong bool

var listCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored knowledge objects",
	GroupID: "store",
	Long: `Ls lists the identifiers of every object in the store.

With --long, the title and specification files of each object are shown.

Examples:
  shelf ls
  shelf ls -l
  shelf --store https://repo.example.org/fcrepo/rest ls`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listLong, "long", "l", false, "Use long listing format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	s, err := newShelf()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ids, err := s.ListAll(ctx)
	if err != nil {
		return err
	}

	if listLong {
		return printLongListing(ctx, cmd.OutOrStdout(), s, ids)
	}
	printShortListing(cmd.OutOrStdout(), ids)
	return nil
}

// printShortListing prints just the identifiers.
func printShortListing(w io.Writer, ids []shelf.Identifier) {
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
}

// printLongListing prints identifier, title, and specification files.
func printLongListing(ctx context.Context, w io.Writer, s *shelf.Shelf, ids []shelf.Identifier) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, id := range ids {
		doc, err := s.GetMetadata(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			id,
			orDash(doc.String("title")),
			orDash(doc.String("hasDeploymentSpecification")),
			orDash(doc.String("hasServiceSpecification")))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
