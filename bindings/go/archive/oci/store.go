// Package oci exposes a hangar archive as OCI content storage so that oras can copy
// image graphs into and out of it, and converts between OCI manifests and index entries.
package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/opencontainers/go-digest"
	ociImageSpecV1 "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	v1 "ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/blob"
)

// Store implements content.Storage backed by the blobs of an archive.
// The index of the archive is not touched, entries are recorded by the caller once a graph is complete.
type Store struct {
	archive archive.Archive
}

var _ content.Storage = (*Store)(nil)

// NewStore creates a Store for the blobs of a.
func NewStore(a archive.Archive) *Store {
	return &Store{archive: a}
}

// Archive returns the archive behind the store.
func (s *Store) Archive() archive.Archive {
	return s.archive
}

// Fetch retrieves a blob from the archive based on its descriptor.
// The content is verified against the descriptor while it is read.
func (s *Store) Fetch(ctx context.Context, target ociImageSpecV1.Descriptor) (io.ReadCloser, error) {
	b, err := s.archive.GetBlob(ctx, target.Digest.String())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", target.Digest, errdef.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get blob: %w", err)
	}
	data, err := b.ReadCloser()
	if err != nil {
		return nil, err
	}
	return &verifyReadCloser{VerifyReader: content.NewVerifyReader(data, target), closer: data}, nil
}

// Exists checks if a blob exists in the archive based on its descriptor.
func (s *Store) Exists(ctx context.Context, target ociImageSpecV1.Descriptor) (bool, error) {
	return s.archive.HasBlob(ctx, target.Digest.String())
}

// Push stores a new blob in the archive with the expected descriptor.
// The archive rejects content that does not match the digest of expected.
func (s *Store) Push(ctx context.Context, expected ociImageSpecV1.Descriptor, data io.Reader) error {
	if err := s.archive.SaveBlob(ctx, &descriptorBlob{data: data, descriptor: expected}); err != nil {
		return fmt.Errorf("unable to save blob for descriptor %s: %w", expected.Digest, err)
	}
	return nil
}

// descriptorBlob is a blob that is backed by a reader (with the content) as well as an OCI descriptor.
// The descriptor is used to report the digest and size without having to introspect the data.
type descriptorBlob struct {
	data       io.Reader
	descriptor ociImageSpecV1.Descriptor
}

var (
	_ blob.ReadOnlyBlob   = (*descriptorBlob)(nil)
	_ blob.SizeAware      = (*descriptorBlob)(nil)
	_ blob.DigestAware    = (*descriptorBlob)(nil)
	_ blob.MediaTypeAware = (*descriptorBlob)(nil)
)

func (d *descriptorBlob) ReadCloser() (io.ReadCloser, error) {
	return io.NopCloser(d.data), nil
}

func (d *descriptorBlob) Size() int64 {
	return d.descriptor.Size
}

func (d *descriptorBlob) Digest() (string, bool) {
	return d.descriptor.Digest.String(), true
}

func (d *descriptorBlob) MediaType() (string, bool) {
	return d.descriptor.MediaType, d.descriptor.MediaType != ""
}

// verifyReadCloser fails the read that reaches the end of the content if it does not match the descriptor.
type verifyReadCloser struct {
	*content.VerifyReader
	closer io.Closer
}

func (v *verifyReadCloser) Read(p []byte) (int, error) {
	n, err := v.VerifyReader.Read(p)
	if errors.Is(err, io.EOF) {
		if verr := v.Verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (v *verifyReadCloser) Close() error {
	return v.closer.Close()
}

// SpecFromManifest fetches and parses the image manifest desc and describes it as an index entry.
// The platform is taken from desc.
func SpecFromManifest(ctx context.Context, fetcher content.Fetcher, desc ociImageSpecV1.Descriptor) (v1.ImageSpec, error) {
	data, err := content.FetchAll(ctx, fetcher, desc)
	if err != nil {
		return v1.ImageSpec{}, fmt.Errorf("unable to fetch manifest %s: %w", desc.Digest, err)
	}
	var manifest ociImageSpecV1.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return v1.ImageSpec{}, fmt.Errorf("unable to parse manifest %s: %w", desc.Digest, err)
	}

	spec := v1.ImageSpec{
		MediaType:   desc.MediaType,
		Digest:      desc.Digest.String(),
		Size:        desc.Size,
		Layers:      make([]string, 0, len(manifest.Layers)),
		Annotations: desc.Annotations,
		TotalSize:   desc.Size,
	}
	if manifest.Config.Digest != "" {
		spec.Config = manifest.Config.Digest.String()
		spec.TotalSize += manifest.Config.Size
	}
	for _, layer := range manifest.Layers {
		spec.Layers = append(spec.Layers, layer.Digest.String())
		spec.TotalSize += layer.Size
	}
	if p := desc.Platform; p != nil {
		spec.OS, spec.Arch, spec.Variant = p.OS, p.Architecture, p.Variant
		spec.OSVersion, spec.OSFeatures = p.OSVersion, p.OSFeatures
	}
	return spec, nil
}

// Descriptor returns the manifest descriptor of an index entry including its platform.
func Descriptor(spec v1.ImageSpec) ociImageSpecV1.Descriptor {
	desc := ociImageSpecV1.Descriptor{
		MediaType:   spec.MediaType,
		Digest:      digest.Digest(spec.Digest),
		Size:        spec.Size,
		Annotations: spec.Annotations,
	}
	if spec.OS != "" || spec.Arch != "" {
		desc.Platform = &ociImageSpecV1.Platform{
			OS:           spec.OS,
			Architecture: spec.Arch,
			Variant:      spec.Variant,
			OSVersion:    spec.OSVersion,
			OSFeatures:   spec.OSFeatures,
		}
	}
	return desc
}
