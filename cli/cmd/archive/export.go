package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	harchive "ocm.software/open-component-model/hangar/bindings/go/archive"
	v1 "ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/internal/flags/file"
)

const defaultExportFailedList = "export-failed.txt"

func newExport() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export -f <image-list> -s <archive> -d <archive>",
		Short: "Export a subset of an archive into a new archive",
		Long: `Export the images of an image list and the named files of an archive into a new archive.

Images are matched by their source reference. Platforms listed on a line narrow the exported
manifests of that image, attestations are kept next to the manifests they describe. Entries of the
list that are not in the archive are written to the failed list.`,
		Example: `hangar archive export -f images.txt -s saved-images.tar.gz -d subset.tar.gz
hangar archive export -s saved-images.tar.gz -d charts.tar.gz --object chart.tgz`,
		Args:              cobra.NoArgs,
		RunE:              runExport,
		DisableAutoGenTag: true,
	}
	flags := cmd.Flags()
	file.VarP(flags, hangarcmd.FileFlag, "f", "", "image list selecting the exported images")
	flags.StringP(hangarcmd.SourceFlag, "s", "", "archive the entries are exported from")
	_ = cmd.MarkFlagRequired(hangarcmd.SourceFlag)
	flags.StringP(hangarcmd.DestinationFlag, "d", "", "archive the entries are exported to")
	_ = cmd.MarkFlagRequired(hangarcmd.DestinationFlag)
	flags.String(hangarcmd.SourceRegistryFlag, "", "registry of images in the list that do not name a registry")
	flags.StringSlice(hangarcmd.ObjectFlag, nil, "names of stored files to export")
	flags.Bool(hangarcmd.AllowEmptyFlag, false, "write an empty archive if nothing matches")
	flags.String(hangarcmd.FailedFlag, defaultExportFailedList, "file the images missing in the archive are written to")
	flags.BoolP(hangarcmd.AutoYesFlag, "y", false, "replace an existing destination archive")
	registerPartFlags(flags)

	cmd.AddCommand(newExportFile())
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	flags := cmd.Flags()
	source, _ := flags.GetString(hangarcmd.SourceFlag)
	destination, _ := flags.GetString(hangarcmd.DestinationFlag)
	sourceRegistry, _ := flags.GetString(hangarcmd.SourceRegistryFlag)
	objects, _ := flags.GetStringSlice(hangarcmd.ObjectFlag)
	allowEmpty, _ := flags.GetBool(hangarcmd.AllowEmptyFlag)
	failedList, _ := flags.GetString(hangarcmd.FailedFlag)

	list, err := file.Get(flags, hangarcmd.FileFlag)
	if err != nil {
		return err
	}
	var specs []imagelist.TransferSpec
	if list.IsSet() {
		if err := list.Require(); err != nil {
			return fmt.Errorf("invalid image list: %w", err)
		}
		if specs, err = imagelist.ParseFile(list.String(), imagelist.ParseOptions{SourceRegistry: sourceRegistry}); err != nil {
			return err
		}
	} else if len(objects) == 0 {
		return fmt.Errorf("nothing to export, use --%s or --%s", hangarcmd.FileFlag, hangarcmd.ObjectFlag)
	}
	if samePath(source, destination) {
		return fmt.Errorf("archive %q cannot be exported into itself", source)
	}

	src, err := openSource(ctx, source)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, src.Close())
	}()
	srcIdx, err := src.GetIndex(ctx)
	if err != nil {
		return err
	}
	for _, name := range objects {
		if _, ok := srcIdx.Object(name); !ok {
			return fmt.Errorf("%w: %s", harchive.ErrObjectNotFound, name)
		}
	}

	if err := prepareOutput(cmd, destination); err != nil {
		return err
	}
	opts, err := outputOptions(cmd, destination)
	if err != nil {
		return err
	}

	selection := newSelection(specs)
	exportOpts := harchive.ExportOptions{AllowEmpty: allowEmpty}
	if len(specs) > 0 {
		exportOpts.Images = selection.images
	}
	if len(objects) > 0 {
		exportOpts.Objects = func(obj v1.Object) bool { return slices.Contains(objects, obj.Name) }
	}

	var result *harchive.ExportResult
	exportErr := harchive.WorkWithin(ctx, opts, func(ctx context.Context, dst harchive.Archive) error {
		var err error
		result, err = harchive.Export(ctx, dst, src, exportOpts)
		return err
	})
	if exportErr != nil && !errors.Is(exportErr, harchive.ErrNoMatchingEntry) {
		return fmt.Errorf("could not export archive: %w", errors.Join(exportErr, removeCreated(destination)))
	}

	failures := selection.misses()
	if written, err := failures.WriteFile(failedList); err != nil {
		return fmt.Errorf("could not write failed images: %w", err)
	} else if written {
		slog.WarnContext(ctx, "images missing in the archive were written", slog.String("file", failedList), slog.Int("images", failures.Len()))
	}
	if exportErr != nil {
		return fmt.Errorf("could not export archive: %w", errors.Join(exportErr, removeCreated(destination)))
	}
	slog.InfoContext(ctx, "archive exported", slog.String("source", source), slog.String("destination", destination),
		slog.Int("images", len(result.Images)), slog.Int("objects", len(result.Objects)))

	if n := failures.Len(); n > 0 {
		return fmt.Errorf("%w: %d of %d images are not in archive %q", transfer.ErrPartialFailure, n, len(specs), source)
	}
	return nil
}

// removeCreated removes what a failed write left at path. Existing archives were removed before.
func removeCreated(path string) error {
	if !harchive.Exists(path) {
		return nil
	}
	return harchive.Remove(path)
}

// selection matches the images of an archive against the specs of an image list.
type selection struct {
	specs   []imagelist.TransferSpec
	matched []bool
}

func newSelection(specs []imagelist.TransferSpec) *selection {
	return &selection{specs: specs, matched: make([]bool, len(specs))}
}

// images narrows img to the platform manifests selected by the specs naming it.
func (s *selection) images(img v1.Image) (v1.Image, bool) {
	keep := make([]bool, len(img.Images))
	selected := false
	for i, spec := range s.specs {
		src, tag := v1.ParseReference(spec.Source)
		if src != img.Source || tag != img.Tag {
			continue
		}
		if narrow(img, spec.Platforms, keep) {
			s.matched[i] = true
			selected = true
		}
	}
	if !selected {
		return img, false
	}
	narrowed := img
	narrowed.Images = nil
	for i, spec := range img.Images {
		if keep[i] {
			narrowed.Images = append(narrowed.Images, spec)
		}
	}
	return narrowed, true
}

// narrow marks the manifests of img matching platforms in keep together with the attestations
// describing them and reports whether any manifest matched.
func narrow(img v1.Image, platforms []imagelist.Platform, keep []bool) bool {
	kept := map[string]bool{}
	for i, spec := range img.Images {
		if spec.Annotations[v1.AnnotationReferenceDigest] != "" {
			continue
		}
		p := imagelist.Platform{OS: spec.OS, Architecture: spec.Arch, Variant: spec.Variant}
		if imagelist.MatchAny(platforms, p) {
			keep[i] = true
			kept[spec.Digest] = true
		}
	}
	for i, spec := range img.Images {
		if ref := spec.Annotations[v1.AnnotationReferenceDigest]; ref != "" && kept[ref] {
			keep[i] = true
		}
	}
	return len(kept) > 0
}

// misses returns the specs that selected nothing.
func (s *selection) misses() *transfer.FailureTracker {
	failures := transfer.NewFailureTracker()
	for i, spec := range s.specs {
		if !s.matched[i] {
			failures.Record(spec, fmt.Errorf("%w: %s", harchive.ErrNoMatchingEntry, spec.Source))
		}
	}
	return failures
}
