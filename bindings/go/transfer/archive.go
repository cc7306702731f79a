package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	v1 "ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	archiveoci "ocm.software/open-component-model/hangar/bindings/go/archive/oci"
	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

// ArchiveSource reads images from an archive. Images are looked up by their source reference.
type ArchiveSource struct {
	store *archiveoci.Store
}

var _ Source = (*ArchiveSource)(nil)

func NewArchiveSource(a archive.Archive) *ArchiveSource {
	return &ArchiveSource{store: archiveoci.NewStore(a)}
}

func (s *ArchiveSource) Resolve(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error) {
	img, err := lookup(ctx, s.store.Archive(), spec)
	if err != nil {
		return nil, err
	}
	return imageArtifact(ctx, s.store.Archive(), img)
}

func (s *ArchiveSource) Storage(context.Context, imagelist.TransferSpec) (content.ReadOnlyStorage, error) {
	return s.store, nil
}

// ArchiveDestination records images in an archive index, keyed by their source reference.
type ArchiveDestination struct {
	store *archiveoci.Store
	mu    sync.Mutex
}

var _ Destination = (*ArchiveDestination)(nil)

func NewArchiveDestination(a archive.Archive) *ArchiveDestination {
	return &ArchiveDestination{store: archiveoci.NewStore(a)}
}

func (d *ArchiveDestination) Reference(spec imagelist.TransferSpec) string {
	return "archive:" + spec.Source
}

func (d *ArchiveDestination) Storage(context.Context, imagelist.TransferSpec) (content.Storage, error) {
	return d.store, nil
}

func (d *ArchiveDestination) Commit(ctx context.Context, req CommitRequest) (ocispec.Descriptor, error) {
	source, tag := v1.ParseReference(req.Spec.Source)
	img := v1.Image{
		Source:    source,
		Tag:       tag,
		MediaType: req.Artifact.Descriptor().MediaType,
		Images:    make([]v1.ImageSpec, 0, len(req.Jobs)),
	}
	for _, job := range req.Jobs {
		spec, err := archiveoci.SpecFromManifest(ctx, d.store, job.Descriptor)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		img.Images = append(img.Images, spec)
	}
	if list, ok := req.Artifact.(ManifestList); ok {
		img.Annotations = list.Annotations
		if list.Raw != nil && list.covers(req.Jobs) {
			if err := pushIfMissing(ctx, d.store, list.Desc, list.Raw); err != nil {
				return ocispec.Descriptor{}, err
			}
			img.Digest = list.Desc.Digest.String()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.store.Archive()
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to get archive index: %w", err)
	}
	idx.AddImage(img)
	if err := a.SetIndex(ctx, idx); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to write archive index: %w", err)
	}
	return req.Artifact.Descriptor(), nil
}

// Inspect returns the image recorded for spec. Missing blobs are reported as archive.ErrArchiveCorrupt.
func (d *ArchiveDestination) Inspect(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error) {
	a := d.store.Archive()
	img, err := lookup(ctx, a, spec)
	if err != nil {
		return nil, err
	}
	for _, s := range img.Images {
		for _, dig := range s.Digests() {
			ok, err := a.HasBlob(ctx, dig)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: blob %s of %s is missing", archive.ErrArchiveCorrupt, dig, spec.Source)
			}
		}
	}
	return imageArtifact(ctx, a, img)
}

func lookup(ctx context.Context, a archive.ReadOnlyIndexStore, spec imagelist.TransferSpec) (v1.Image, error) {
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return v1.Image{}, fmt.Errorf("failed to get archive index: %w", err)
	}
	img, ok := idx.Image(v1.ParseReference(spec.Source))
	if !ok {
		return v1.Image{}, fmt.Errorf("%s is not in the archive: %w", spec.Source, errdef.ErrNotFound)
	}
	return img, nil
}

func imageArtifact(ctx context.Context, a archive.ReadOnlyBlobStore, img v1.Image) (Artifact, error) {
	if len(img.Images) == 0 {
		return nil, fmt.Errorf("%w: %s has no manifests", archive.ErrArchiveCorrupt, img.Reference())
	}
	if !manifestlist.IsManifestList(img.MediaType) {
		desc := archiveoci.Descriptor(img.Images[0])
		var platform ocispec.Platform
		if desc.Platform != nil {
			platform = *desc.Platform
		}
		desc.Platform = nil
		return SingleImage{Desc: desc, Platform: platform}, nil
	}

	list := ManifestList{
		Desc:        ocispec.Descriptor{MediaType: img.MediaType},
		Annotations: img.Annotations,
		Entries:     make([]manifestlist.Entry, 0, len(img.Images)),
	}
	for _, spec := range img.Images {
		list.Entries = append(list.Entries, manifestlist.FromDescriptor(archiveoci.Descriptor(spec)))
	}
	if img.Digest != "" {
		raw, err := readBlob(ctx, a, img.Digest)
		if err != nil {
			return nil, err
		}
		list.Desc = content.NewDescriptorFromBytes(img.MediaType, raw)
		list.Raw = raw
	}
	return list, nil
}

func readBlob(ctx context.Context, a archive.ReadOnlyBlobStore, dig string) (_ []byte, err error) {
	b, err := a.GetBlob(ctx, dig)
	if err != nil {
		return nil, err
	}
	rc, err := b.ReadCloser()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, rc.Close())
	}()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if actual := digest.FromBytes(raw); actual.String() != dig {
		return nil, fmt.Errorf("%w: blob %s has digest %s", archive.ErrArchiveCorrupt, dig, actual)
	}
	return raw, nil
}

func pushIfMissing(ctx context.Context, store content.Storage, desc ocispec.Descriptor, raw []byte) error {
	exists, err := store.Exists(ctx, desc)
	if err != nil || exists {
		return err
	}
	if err := store.Push(ctx, desc, bytes.NewReader(raw)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return fmt.Errorf("failed to store %s: %w", desc.Digest, err)
	}
	return nil
}
