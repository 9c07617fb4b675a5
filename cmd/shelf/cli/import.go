package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
	"github.com/kgrid/kgrid-shelf-sub000/internal/archive"
)

var (
	importManifest bool
	importLong     bool
	importHuman    bool
)

var importCmd = &cobra.Command{
	Use:     "import <archive>...",
	Short:   "Import knowledge objects",
	GroupID: "core",
	Long: `Import stores knowledge objects from zip archives.

Each argument is a zip file, a directory holding an unpacked object, or "-"
to read a zip from standard input. An existing object with the same
identifier is replaced. With --manifest, each argument is instead a JSON
manifest (local path or http(s) URL) listing archives to import.

Examples:
  shelf import hello-world-v1.zip
  shelf import ./naan-name-v1
  shelf import -l -H hello-world-v1.zip
  shelf import --manifest https://example.org/objects/manifest.json`,
	Args:              cobra.MinimumNArgs(1),
	RunE:              runImport,
	ValidArgsFunction: completeImportArgs,
}

func init() {
	importCmd.Flags().BoolVarP(&importManifest, "manifest", "m", false, "Treat arguments as manifests")
	importCmd.Flags().BoolVarP(&importLong, "long", "l", false, "List imported artifacts")
	importCmd.Flags().BoolVarP(&importHuman, "human-readable", "H", false, "Print sizes in human-readable format")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	s, err := newShelf()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	if importManifest {
		var failed error
		for _, m := range args {
			ids, err := s.ImportManifest(ctx, m)
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			if err != nil {
				failed = err
				fmt.Fprintln(cmd.ErrOrStderr(), formatError(err))
			}
		}
		if failed != nil {
			return fmt.Errorf("manifest import incomplete: %w", failed)
		}
		return nil
	}

	for _, src := range args {
		res, err := importOne(ctx, s, src, cmd.InOrStdin())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.ID)
		if importLong {
			printArtifacts(out, res.Artifacts, importHuman)
		}
	}
	return nil
}

func importOne(ctx context.Context, s *shelf.Shelf, src string, stdin io.Reader) (*shelf.ImportResult, error) {
	callback, finish := newProgress("Importing")
	defer finish()
	opts := []shelf.ImportOption{shelf.WithImportProgress(callback)}

	if src == "-" {
		return s.Import(ctx, stdin, opts...)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		data, err := packDir(ctx, src)
		if err != nil {
			return nil, err
		}
		return s.Import(ctx, bytes.NewReader(data), opts...)
	}

	f, err := os.Open(src) //nolint:gosec // G304: src is a user-provided CLI argument
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Import(ctx, f, opts...)
}

// packDir zips an unpacked object directory. Entry names keep the
// directory's own name as the archive root.
func packDir(ctx context.Context, dir string) ([]byte, error) {
	dir = filepath.Clean(dir)
	root := filepath.Base(dir)
	var entries []archive.Entry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p) //nolint:gosec // G304: walking a user-provided directory
		if err != nil {
			return err
		}
		entries = append(entries, archive.Entry{
			Name: path.Join(root, filepath.ToSlash(rel)),
			Data: data,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var buf bytes.Buffer
	if err := archive.Pack(ctx, &buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// printArtifacts prints size, digest, and path of each artifact.
func printArtifacts(w io.Writer, artifacts []shelf.Artifact, human bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, a := range artifacts {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", formatSize(a.Size, human), a.Digest.Encoded()[:12], a.Path)
	}
	tw.Flush()
}

// formatSize formats a byte count for display.
func formatSize(size int64, human bool) string {
	if human {
		//nolint:gosec // G115: sizes are never negative
		return humanize.IBytes(uint64(size))
	}
	return strconv.FormatInt(size, 10)
}
