package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	orasregistry "oras.land/oras-go/v2/registry"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

// RegistrySource reads images from registries.
type RegistrySource struct {
	Resolver registry.Resolver
}

var _ Source = (*RegistrySource)(nil)

func NewRegistrySource(resolver registry.Resolver) *RegistrySource {
	return &RegistrySource{Resolver: resolver}
}

func (s *RegistrySource) Resolve(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error) {
	repo, ref, err := repository(ctx, s.Resolver, spec.Source)
	if err != nil {
		return nil, err
	}
	desc, err := repo.Resolve(ctx, ref.ReferenceOrDefault())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", spec.Source, err)
	}
	return resolveArtifact(ctx, repo, desc)
}

func (s *RegistrySource) Storage(ctx context.Context, spec imagelist.TransferSpec) (content.ReadOnlyStorage, error) {
	repo, _, err := repository(ctx, s.Resolver, spec.Source)
	return repo, err
}

// RegistryDestination pushes images to registries.
// Manifest lists at the destination are extended rather than replaced. Signatures
// referring to copied manifests are copied along unless the policy removes them.
type RegistryDestination struct {
	Resolver registry.Resolver
}

var _ Destination = (*RegistryDestination)(nil)

func NewRegistryDestination(resolver registry.Resolver) *RegistryDestination {
	return &RegistryDestination{Resolver: resolver}
}

func (d *RegistryDestination) Reference(spec imagelist.TransferSpec) string {
	return spec.Destination
}

func (d *RegistryDestination) Storage(ctx context.Context, spec imagelist.TransferSpec) (content.Storage, error) {
	repo, _, err := d.repository(ctx, spec)
	return repo, err
}

func (d *RegistryDestination) Inspect(ctx context.Context, spec imagelist.TransferSpec) (Artifact, error) {
	repo, ref, err := d.repository(ctx, spec)
	if err != nil {
		return nil, err
	}
	desc, err := repo.Resolve(ctx, ref.ReferenceOrDefault())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", spec.Destination, err)
	}
	return resolveArtifact(ctx, repo, desc)
}

func (d *RegistryDestination) Commit(ctx context.Context, req CommitRequest) (ocispec.Descriptor, error) {
	repo, ref, err := d.repository(ctx, req.Spec)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	logger := log.Realm(ctx, "transfer").With(slog.String("destination", req.Spec.Destination))

	var final ocispec.Descriptor
	switch a := req.Artifact.(type) {
	case SingleImage:
		final = a.Desc
		final.Platform = nil
		if err := tag(ctx, repo, final, ref); err != nil {
			return ocispec.Descriptor{}, err
		}
	case ManifestList:
		existing, current, err := existingEntries(ctx, repo, ref)
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		pushed := make([]manifestlist.Entry, 0, len(req.Jobs))
		for _, job := range req.Jobs {
			pushed = append(pushed, manifestlist.FromDescriptor(job.Descriptor))
		}
		switch {
		case len(existing) == 0 && a.Raw != nil && a.covers(req.Jobs):
			final = a.Desc
			if err := pushManifest(ctx, repo, final, a.Raw, ref); err != nil {
				return ocispec.Descriptor{}, err
			}
		case len(existing) > 0 && manifestlist.Contains(existing, pushed):
			logger.DebugContext(ctx, "destination manifest list already contains all platforms")
			final = current
		default:
			index, raw, err := manifestlist.Build(manifestlist.Reconcile(existing, pushed), a.Annotations)
			if err != nil {
				return ocispec.Descriptor{}, err
			}
			final = content.NewDescriptorFromBytes(index.MediaType, raw)
			if err := pushManifest(ctx, repo, final, raw, ref); err != nil {
				return ocispec.Descriptor{}, err
			}
		}
	default:
		return ocispec.Descriptor{}, errors.New("unknown artifact")
	}

	if !req.Spec.Policy.RemoveSignatures {
		subjects := make([]ocispec.Descriptor, 0, len(req.Jobs)+1)
		for _, job := range req.Jobs {
			subjects = append(subjects, job.Descriptor)
		}
		if _, ok := req.Artifact.(ManifestList); ok && final.Digest == req.Artifact.Descriptor().Digest {
			subjects = append(subjects, final)
		}
		if err := copyReferrers(ctx, req.Source, repo, subjects); err != nil {
			return ocispec.Descriptor{}, err
		}
	}
	return final, nil
}

func (d *RegistryDestination) repository(ctx context.Context, spec imagelist.TransferSpec) (registry.Repository, orasregistry.Reference, error) {
	if spec.Destination == "" {
		return nil, orasregistry.Reference{}, fmt.Errorf("no destination for %s", spec.Source)
	}
	return repository(ctx, d.Resolver, spec.Destination)
}

func repository(ctx context.Context, resolver registry.Resolver, reference string) (registry.Repository, orasregistry.Reference, error) {
	ref, err := registry.ParseReference(reference)
	if err != nil {
		return nil, orasregistry.Reference{}, err
	}
	repo, err := resolver.Repository(ctx, ref)
	if err != nil {
		return nil, orasregistry.Reference{}, err
	}
	return repo, ref, nil
}

func isDigest(ref orasregistry.Reference) bool {
	return ref.Reference != "" && ref.ValidateReferenceAsDigest() == nil
}

// existingEntries returns the entries of the manifest list at ref. A missing tag or a
// single platform manifest yield no entries.
func existingEntries(ctx context.Context, repo registry.Repository, ref orasregistry.Reference) ([]manifestlist.Entry, ocispec.Descriptor, error) {
	if isDigest(ref) {
		return nil, ocispec.Descriptor{}, nil
	}
	current, err := repo.Resolve(ctx, ref.ReferenceOrDefault())
	switch {
	case errors.Is(err, errdef.ErrNotFound):
		return nil, ocispec.Descriptor{}, nil
	case err != nil:
		return nil, ocispec.Descriptor{}, fmt.Errorf("failed to resolve %s: %w", ref, err)
	case !manifestlist.IsManifestList(current.MediaType):
		return nil, current, nil
	}
	_, _, entries, err := manifestlist.Fetch(ctx, repo, current)
	if err != nil {
		return nil, ocispec.Descriptor{}, err
	}
	return entries, current, nil
}

func pushManifest(ctx context.Context, repo registry.Repository, desc ocispec.Descriptor, raw []byte, ref orasregistry.Reference) error {
	if err := pushIfMissing(ctx, repo, desc, raw); err != nil {
		return err
	}
	return tag(ctx, repo, desc, ref)
}

func tag(ctx context.Context, repo registry.Repository, desc ocispec.Descriptor, ref orasregistry.Reference) error {
	if isDigest(ref) {
		if ref.Reference != desc.Digest.String() {
			log.Realm(ctx, "transfer").WarnContext(ctx, "destination digest differs from the requested digest",
				slog.String("requested", ref.Reference), slog.String("actual", desc.Digest.String()))
		}
		return nil
	}
	if err := repo.Tag(ctx, desc, ref.ReferenceOrDefault()); err != nil {
		return fmt.Errorf("failed to tag %s: %w", ref, err)
	}
	return nil
}

// copyReferrers copies everything referring to subjects, such as signatures, from src to dst.
// Sources that cannot list referrers are skipped.
func copyReferrers(ctx context.Context, src content.ReadOnlyStorage, dst content.Storage, subjects []ocispec.Descriptor) error {
	graph, ok := src.(content.ReadOnlyGraphStorage)
	if !ok {
		return nil
	}
	for _, subject := range subjects {
		referrers, err := orasregistry.Referrers(ctx, graph, subject, "")
		if err != nil {
			if errors.Is(err, errdef.ErrUnsupported) {
				continue
			}
			return fmt.Errorf("failed to list referrers of %s: %w", subject.Digest, err)
		}
		for _, referrer := range referrers {
			if err := oras.CopyGraph(ctx, src, dst, referrer, oras.DefaultCopyGraphOptions); err != nil {
				return fmt.Errorf("failed to copy referrer %s of %s: %w", referrer.Digest, subject.Digest, err)
			}
			log.Realm(ctx, "transfer").DebugContext(ctx, "copied referrer", log.DescriptorLogAttr(referrer))
		}
	}
	return nil
}
