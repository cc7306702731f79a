package transfer

import (
	"context"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

// Source provides the images of an image list.
type Source interface {
	// Resolve looks up the artifact spec.Source points to.
	Resolve(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error)
	// Storage returns the content of spec.Source.
	Storage(ctx context.Context, spec imagelist.TransferSpec) (content.ReadOnlyStorage, error)
}

// Destination receives the images of an image list.
type Destination interface {
	// Storage returns the storage the manifests of spec are copied into.
	Storage(ctx context.Context, spec imagelist.TransferSpec) (content.Storage, error)
	// Commit makes the copied jobs of a spec available under its destination reference
	// and returns the descriptor the reference resolves to afterwards.
	Commit(ctx context.Context, req CommitRequest) (ocispec.Descriptor, error)
	// Inspect resolves what the destination currently holds for spec.
	Inspect(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error)
	// Reference names the destination of spec for humans.
	Reference(spec imagelist.TransferSpec) string
}

// CommitRequest is the outcome of a spec handed to Destination.Commit.
type CommitRequest struct {
	Spec     imagelist.TransferSpec
	Artifact Artifact
	// Jobs are the successful jobs of Spec in expansion order.
	Jobs []Job
	// Source is the storage the jobs were copied from.
	Source content.ReadOnlyStorage
}

// resolveArtifact describes desc, fetched from fetcher, as an Artifact.
func resolveArtifact(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor) (Artifact, error) {
	if manifestlist.IsManifestList(desc.MediaType) {
		index, raw, entries, err := manifestlist.Fetch(ctx, fetcher, desc)
		if err != nil {
			return nil, err
		}
		return ManifestList{Desc: desc, Raw: raw, Annotations: index.Annotations, Entries: entries}, nil
	}
	if !manifestlist.IsManifest(desc.MediaType) {
		return SingleImage{Desc: desc}, nil
	}
	platform, err := manifestlist.PlatformOf(ctx, fetcher, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to determine platform of %s: %w", desc.Digest, err)
	}
	return SingleImage{Desc: desc, Platform: platform}, nil
}
