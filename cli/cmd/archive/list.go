package archive

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	harchive "ocm.software/open-component-model/hangar/bindings/go/archive"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/internal/flags/enum"
	"ocm.software/open-component-model/hangar/cli/internal/render"
)

var entryColumns = render.Columns[harchive.Entry]{
	Header: table.Row{"Reference", "Kind", "Platform", "Digest", "Size"},
	Row: func(e harchive.Entry) table.Row {
		return table.Row{e.Reference, e.Kind, e.Platform(), e.Digest, units.BytesSize(float64(e.Size))}
	},
	Merge: []int{1},
}

func newList() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls -f <archive>",
		Aliases: []string{"list"},
		Short:   "List the images and files of an archive",
		Long: `List the platform manifests of every image and the files stored in an archive.

Only the index of the archive is read, TAR based archives are not extracted.`,
		Example: `hangar archive ls -f saved-images.tar.gz
hangar archive ls -f saved-images.tar.gz -o json`,
		Args:              cobra.NoArgs,
		RunE:              runList,
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringP(hangarcmd.FileFlag, "f", "", "archive to list")
	_ = cmd.MarkFlagRequired(hangarcmd.FileFlag)
	enum.VarP(cmd.Flags(), hangarcmd.OutputFlag, "o", render.OutputFormats, "output format")
	cmd.Flags().Bool(hangarcmd.ImagesFlag, false, "list images only")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, err := cmd.Flags().GetString(hangarcmd.FileFlag)
	if err != nil {
		return err
	}
	output, err := enum.Get(cmd.Flags(), hangarcmd.OutputFlag)
	if err != nil {
		return err
	}
	imagesOnly, _ := cmd.Flags().GetBool(hangarcmd.ImagesFlag)
	if !harchive.Exists(path) {
		return fmt.Errorf("archive %q does not exist", path)
	}

	idx, err := harchive.ReadIndex(ctx, path)
	if err != nil {
		return fmt.Errorf("could not read archive index: %w", err)
	}
	var entries []harchive.Entry
	for entry, err := range harchive.List(ctx, harchive.IndexStoreOf(idx)) {
		if err != nil {
			return err
		}
		if imagesOnly && entry.Kind != harchive.EntryKindImage {
			continue
		}
		entries = append(entries, entry)
	}
	return render.Write(cmd.OutOrStdout(), output, entries, entryColumns)
}
