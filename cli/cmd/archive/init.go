package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	harchive "ocm.software/open-component-model/hangar/bindings/go/archive"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
)

func newInit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init -d <archive>",
		Short: "Create an empty archive",
		Long: `Create an empty archive.

The format is derived from the path: .tar creates a plain TAR archive, .tar.gz and .tgz a gzip
compressed one and .tar.zst and .tzst a zstd compressed one. Any other path creates a directory.`,
		Example: `hangar archive init -d saved-images.tar.gz
hangar archive init -d ./saved-images`,
		Args:              cobra.NoArgs,
		RunE:              runInit,
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringP(hangarcmd.DestinationFlag, "d", "", "path of the archive")
	_ = cmd.MarkFlagRequired(hangarcmd.DestinationFlag)
	cmd.Flags().BoolP(hangarcmd.AutoYesFlag, "y", false, "replace an existing archive")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, err := cmd.Flags().GetString(hangarcmd.DestinationFlag)
	if err != nil {
		return err
	}
	if err := prepareOutput(cmd, path); err != nil {
		return err
	}
	opts := harchive.OpenOptions{
		Path:    path,
		Flag:    harchive.O_RDWR | harchive.O_CREATE,
		TempDir: hctx.FromContext(ctx).TempDir(),
	}
	if err := harchive.WorkWithin(ctx, opts, func(ctx context.Context, a harchive.Archive) error {
		idx, err := a.GetIndex(ctx)
		if err != nil {
			return err
		}
		return a.SetIndex(ctx, idx)
	}); err != nil {
		return fmt.Errorf("could not create archive: %w", err)
	}
	slog.InfoContext(ctx, "archive created", slog.String("path", path))
	return nil
}

// prepareOutput fails if an archive exists at path, unless the auto-yes flag allows removing it.
func prepareOutput(cmd *cobra.Command, path string) error {
	if !harchive.Exists(path) {
		return nil
	}
	if overwrite, _ := cmd.Flags().GetBool(hangarcmd.AutoYesFlag); !overwrite {
		return fmt.Errorf("archive %q already exists, use --%s to replace it", path, hangarcmd.AutoYesFlag)
	}
	slog.InfoContext(cmd.Context(), "removing existing archive", slog.String("path", path))
	if err := harchive.Remove(path); err != nil {
		return fmt.Errorf("could not remove existing archive: %w", err)
	}
	return nil
}
