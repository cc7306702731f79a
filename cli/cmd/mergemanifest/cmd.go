package mergemanifest

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
)

// New returns the merge-manifest command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge-manifest <destination> <source>...",
		Short: "Merge pushed images into one manifest list",
		Long: `Merge images that were pushed under separate tags into the manifest list tagged by destination.

Sources may be single platform images or manifest lists, images of other repositories are copied
into the destination repository. Platforms already listed at the destination are kept unless a
source provides the same platform.`,
		Example: `hangar merge-manifest registry.example.com/app:v1 registry.example.com/app:v1-amd64 registry.example.com/app:v1-arm64
hangar merge-manifest registry.example.com/app:v1 registry.example.com/app:v1-arm64 --dry-run`,
		Args:              cobra.MinimumNArgs(2),
		RunE:              run,
		DisableAutoGenTag: true,
	}
	cmd.Flags().Bool(hangarcmd.DryRunFlag, false, "print the manifest list instead of pushing it")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool(hangarcmd.DryRunFlag)
	resolver, err := hctx.FromContext(ctx).Resolver()
	if err != nil {
		return err
	}
	destination, sources := args[0], args[1:]

	result, err := manifestlist.Merge(ctx, resolver, destination, sources, manifestlist.MergeOptions{DryRun: dryRun})
	if err != nil {
		return err
	}
	if dryRun {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(result.Raw))
		return err
	}
	attrs := []any{
		slog.String("destination", destination),
		slog.String("digest", result.Descriptor.Digest.String()),
		slog.Int("manifests", len(result.Index.Manifests)),
	}
	if !result.Pushed {
		slog.InfoContext(ctx, "manifest list is up to date", attrs...)
		return nil
	}
	slog.InfoContext(ctx, "manifest list pushed", attrs...)
	return nil
}
