package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	harchive "ocm.software/open-component-model/hangar/bindings/go/archive"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
	"ocm.software/open-component-model/hangar/cli/internal/flags/size"
)

const defaultPartSize = 2 << 30

func newMerge() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge -f <archive> -f <archive> -o <archive>",
		Short: "Merge archives into a new archive",
		Long: `Merge the images and files of several archives into a new archive.

Blobs shared by the sources are stored once. If an image is present in several sources, its platform
manifests are combined and later sources win for the same platform.`,
		Example: `hangar archive merge -f amd64.tar.gz -f arm64.tar.gz -o saved-images.tar.gz`,
		Args:              cobra.NoArgs,
		RunE:              runMerge,
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringSliceP(hangarcmd.FileFlag, "f", nil, "archives to merge")
	_ = cmd.MarkFlagRequired(hangarcmd.FileFlag)
	cmd.Flags().StringP(hangarcmd.OutputFlag, "o", "", "archive the sources are merged into")
	_ = cmd.MarkFlagRequired(hangarcmd.OutputFlag)
	cmd.Flags().BoolP(hangarcmd.AutoYesFlag, "y", false, "replace an existing output archive")
	registerPartFlags(cmd.Flags())
	return cmd
}

func runMerge(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	sources, err := cmd.Flags().GetStringSlice(hangarcmd.FileFlag)
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString(hangarcmd.OutputFlag)
	if err != nil {
		return err
	}
	for _, source := range sources {
		if samePath(source, output) {
			return fmt.Errorf("archive %q cannot be merged into itself", source)
		}
	}

	archives := make([]harchive.Archive, 0, len(sources))
	for _, source := range sources {
		a, openErr := openSource(ctx, source)
		if openErr != nil {
			return openErr
		}
		defer func() {
			err = errors.Join(err, a.Close())
		}()
		archives = append(archives, a)
	}

	if err := prepareOutput(cmd, output); err != nil {
		return err
	}
	opts, err := outputOptions(cmd, output)
	if err != nil {
		return err
	}
	if err := harchive.WorkWithin(ctx, opts, func(ctx context.Context, dst harchive.Archive) error {
		return harchive.Merge(ctx, dst, archives...)
	}); err != nil {
		return fmt.Errorf("could not merge archives: %w", err)
	}
	slog.InfoContext(ctx, "archives merged", slog.Any("sources", sources), slog.String("output", output))
	return nil
}

// openSource opens the archive at path read-only. The caller closes it.
func openSource(ctx context.Context, path string) (*harchive.FileSystemArchive, error) {
	if !harchive.Exists(path) {
		return nil, fmt.Errorf("archive %q does not exist", path)
	}
	a, err := harchive.Open(ctx, harchive.OpenOptions{
		Path:    path,
		Flag:    harchive.O_RDONLY,
		TempDir: hctx.FromContext(ctx).TempDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open archive %q: %w", path, err)
	}
	return a, nil
}

func registerPartFlags(flags *pflag.FlagSet) {
	flags.Bool(hangarcmd.PartFlag, false, "split the archive into parts")
	size.PartSizeVar(flags, hangarcmd.PartSizeFlag, defaultPartSize, "size of the parts of a split archive")
}

// outputOptions returns how a new archive at path is opened for writing.
func outputOptions(cmd *cobra.Command, path string) (harchive.OpenOptions, error) {
	opts := harchive.OpenOptions{
		Path:    path,
		Flag:    harchive.O_RDWR | harchive.O_CREATE,
		TempDir: hctx.FromContext(cmd.Context()).TempDir(),
	}
	if split, _ := cmd.Flags().GetBool(hangarcmd.PartFlag); split {
		partSize, err := size.Get(cmd.Flags(), hangarcmd.PartSizeFlag)
		if err != nil {
			return opts, err
		}
		opts.PartSize = partSize
	}
	return opts, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
