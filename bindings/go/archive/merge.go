package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
)

var (
	// ErrNoMatchingEntry is returned by Export if the filter selects nothing.
	ErrNoMatchingEntry = errors.New("no entry of the archive matches the filter")
)

// Merge adds the images, objects and referenced blobs of every source to dst.
// Blobs already present in dst are not copied again. For images that exist in several
// archives the platform specs are merged, later sources win for the same platform.
// Merging the same source twice leaves dst unchanged.
func Merge(ctx context.Context, dst Archive, srcs ...Archive) (err error) {
	done := log.Operation(ctx, "archive", "merge", slog.Int("sources", len(srcs)))
	defer func() { done(err) }()

	dstIdx, err := dst.GetIndex(ctx)
	if err != nil {
		return fmt.Errorf("unable to get destination index: %w", err)
	}
	for i, src := range srcs {
		srcIdx, err := src.GetIndex(ctx)
		if err != nil {
			return fmt.Errorf("unable to get index of source %d: %w", i, err)
		}
		if err := copyBlobs(ctx, src, dst, srcIdx.Digests()); err != nil {
			return fmt.Errorf("unable to copy blobs of source %d: %w", i, err)
		}
		dstIdx.Merge(srcIdx)
	}
	if err := dst.SetIndex(ctx, dstIdx); err != nil {
		return fmt.Errorf("unable to set destination index: %w", err)
	}
	return nil
}

// ExportOptions select the entries of an archive that are exported.
type ExportOptions struct {
	// Images selects an image and optionally narrows it to a subset of its platform specs.
	// Images without remaining specs are skipped. If nil, no images are exported.
	Images func(v1.Image) (v1.Image, bool)
	// Objects selects the objects to export. If nil, no objects are exported.
	Objects func(v1.Object) bool
	// AllowEmpty permits exporting an empty archive if nothing matches.
	AllowEmpty bool
}

// ExportResult lists what Export has written.
type ExportResult struct {
	Images  []v1.Image
	Objects []v1.Object
}

// Export copies the selected entries of src together with the blobs they reference into dst.
// If nothing matches and ExportOptions.AllowEmpty is not set, ErrNoMatchingEntry is returned
// and dst is left untouched.
func Export(ctx context.Context, dst Archive, src Archive, opts ExportOptions) (_ *ExportResult, err error) {
	done := log.Operation(ctx, "archive", "export")
	defer func() { done(err) }()

	srcIdx, err := src.GetIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get source index: %w", err)
	}

	selected := v1.NewIndex()
	result := &ExportResult{}
	if opts.Images != nil {
		for _, img := range srcIdx.Images() {
			narrowed, ok := opts.Images(img)
			if !ok || len(narrowed.Images) == 0 {
				continue
			}
			if len(narrowed.Images) != len(img.Images) {
				narrowed.Digest = ""
			}
			selected.AddImage(narrowed)
			result.Images = append(result.Images, narrowed)
		}
	}
	if opts.Objects != nil {
		for _, obj := range srcIdx.Objects() {
			if opts.Objects(obj) {
				selected.AddObject(obj)
				result.Objects = append(result.Objects, obj)
			}
		}
	}

	if len(result.Images) == 0 && len(result.Objects) == 0 && !opts.AllowEmpty {
		return nil, ErrNoMatchingEntry
	}

	if err := copyBlobs(ctx, src, dst, selected.Digests()); err != nil {
		return nil, fmt.Errorf("unable to copy blobs: %w", err)
	}
	dstIdx, err := dst.GetIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get destination index: %w", err)
	}
	dstIdx.Merge(selected)
	if err := dst.SetIndex(ctx, dstIdx); err != nil {
		return nil, fmt.Errorf("unable to set destination index: %w", err)
	}
	return result, nil
}
