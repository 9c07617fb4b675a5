package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

// completionTimeout is the maximum time allowed for completion requests.
// Kept short to avoid blocking the shell.
const completionTimeout = 3 * time.Second

// completeIdentifiers suggests the identifiers of stored objects.
func completeIdentifiers(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	s, err := newShelf()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	ids, err := s.ListAll(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var completions []string
	for _, id := range ids {
		if c := id.String(); strings.HasPrefix(c, toComplete) {
			completions = append(completions, c)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeObjectFiles completes the identifier first, then paths inside
// that object.
func completeObjectFiles(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return completeIdentifiers(cmd, args, toComplete)
	case 1:
	default:
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	id, err := shelf.ParseIdentifier(args[0])
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	s, err := newShelf()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	names, err := s.ExportEntries(ctx, id)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	prefix := id.Dash() + "/"
	var completions []string
	for _, n := range names {
		rel := strings.TrimPrefix(n, prefix)
		if strings.HasPrefix(rel, toComplete) {
			completions = append(completions, rel)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeImportArgs offers archives and directories from the filesystem.
func completeImportArgs(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"zip", "json"}, cobra.ShellCompDirectiveFilterFileExt
}
