package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

var metadataImpl string

var metadataCmd = &cobra.Command{
	Use:     "metadata <identifier>",
	Aliases: []string{"meta"},
	Short:   "Show or edit the metadata of a knowledge object",
	GroupID: "core",
	Long: `Metadata prints the metadata document of a stored object as JSON.

Use --impl to select a nested implementation, and the set subcommand to
replace the document.

Examples:
  shelf metadata ark:/naan/name/v1
  shelf metadata ark:/naan/name/v1 --impl impl-js
  shelf metadata set ark:/naan/name/v1 metadata.json`,
	Args:              cobra.ExactArgs(1),
	RunE:              runMetadataShow,
	ValidArgsFunction: completeIdentifiers,
}

var metadataSetCmd = &cobra.Command{
	Use:   "set <identifier> <file>",
	Short: "Replace the metadata of a knowledge object",
	Long: `Set validates a JSON metadata document and stores it in place of the
object's current metadata. The document must identify the same object.
Use "-" to read the document from standard input.`,
	Args: cobra.ExactArgs(2),
	RunE: runMetadataSet,
}

var specCmd = &cobra.Command{
	Use:   "spec <identifier> <deployment|service>",
	Short: "Show a specification of a knowledge object",
	Long: `Spec prints the parsed deployment or service specification of a stored
object as YAML.

Examples:
  shelf spec ark:/naan/name/v1 deployment
  shelf spec ark:/naan/name/v1 service`,
	GroupID:   "core",
	Args:      cobra.ExactArgs(2),
	RunE:      runSpec,
	ValidArgs: []string{"deployment", "service"},
}

func init() {
	metadataCmd.Flags().StringVar(&metadataImpl, "impl", "", "Nested implementation path")
	metadataCmd.AddCommand(metadataSetCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(specCmd)
}

func runMetadataShow(cmd *cobra.Command, args []string) error {
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

	var sub []string
	if metadataImpl != "" {
		sub = append(sub, metadataImpl)
	}
	doc, err := s.GetMetadata(ctx, id, sub...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func runMetadataSet(cmd *cobra.Command, args []string) error {
	id, err := shelf.ParseIdentifier(args[0])
	if err != nil {
		return err
	}

	var data []byte
	if args[1] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[1]) //nolint:gosec // G304: user-provided CLI argument
	}
	if err != nil {
		return err
	}
	var doc shelf.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", shelf.ErrInvalidMetadata, err)
	}

	s, err := newShelf()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := s.EditMetadata(ctx, id, doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated metadata of %s\n", id)
	return nil
}

func runSpec(cmd *cobra.Command, args []string) error {
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

	var spec shelf.Document
	switch args[1] {
	case "deployment":
		spec, err = s.DeploymentSpec(ctx, id)
	case "service":
		spec, err = s.ServiceSpec(ctx, id)
	default:
		return fmt.Errorf("unknown specification %q (want deployment or service)", args[1])
	}
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(spec)); err != nil {
		return err
	}
	return enc.Close()
}
