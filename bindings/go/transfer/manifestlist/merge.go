package manifestlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"

	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
	"ocm.software/open-component-model/hangar/bindings/go/registry"
)

// MergeOptions control Merge.
type MergeOptions struct {
	// DryRun computes the manifest list without copying or pushing anything.
	DryRun bool
}

// MergeResult is the manifest list produced by Merge.
type MergeResult struct {
	Descriptor ocispec.Descriptor
	Index      ocispec.Index
	Raw        []byte
	// Pushed is false for dry runs and if the destination already contained every entry.
	Pushed bool
}

// Merge combines the manifests tagged by sources into the manifest list tagged by destination.
// Sources may be single platform manifests or manifest lists. Manifests from other repositories
// are copied into the destination repository first. Entries of an existing destination list
// are kept unless a source provides the same platform.
func Merge(ctx context.Context, resolver registry.Resolver, destination string, sources []string, opts MergeOptions) (_ *MergeResult, err error) {
	done := log.Operation(ctx, "manifestlist", "merge", slog.String("destination", destination))
	defer func() { done(err) }()

	if len(sources) == 0 {
		return nil, errors.New("no source manifests given")
	}
	dstRef, err := registry.ParseReference(destination)
	if err != nil {
		return nil, err
	}
	if dstRef.Reference == "" {
		return nil, fmt.Errorf("destination %q has no tag", destination)
	}
	dst, err := resolver.Repository(ctx, dstRef)
	if err != nil {
		return nil, err
	}

	var pushed []Entry
	for _, source := range sources {
		entries, err := collect(ctx, resolver, dst, dstRef.Registry+"/"+dstRef.Repository, source, opts.DryRun)
		if err != nil {
			return nil, err
		}
		pushed = append(pushed, entries...)
	}

	var existing []Entry
	var annotations map[string]string
	current, err := dst.Resolve(ctx, dstRef.Reference)
	switch {
	case errors.Is(err, errdef.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to resolve %s: %w", destination, err)
	case IsManifestList(current.MediaType):
		var index ocispec.Index
		if index, _, existing, err = Fetch(ctx, dst, current); err != nil {
			return nil, err
		}
		annotations = index.Annotations
	default:
		log.Realm(ctx, "manifestlist").WarnContext(ctx, "replacing single platform manifest with manifest list", slog.String("destination", destination))
	}

	index, raw, err := Build(Reconcile(existing, pushed), annotations)
	if err != nil {
		return nil, err
	}
	result := &MergeResult{
		Descriptor: content.NewDescriptorFromBytes(index.MediaType, raw),
		Index:      index,
		Raw:        raw,
	}
	if opts.DryRun || (len(existing) > 0 && Contains(existing, pushed)) {
		return result, nil
	}
	if result.Descriptor, err = oras.TagBytes(ctx, dst, index.MediaType, raw, dstRef.Reference); err != nil {
		return nil, fmt.Errorf("failed to push manifest list %s: %w", destination, err)
	}
	result.Pushed = true
	return result, nil
}

func collect(ctx context.Context, resolver registry.Resolver, dst registry.Repository, dstRepo, source string, dryRun bool) ([]Entry, error) {
	ref, err := registry.ParseReference(source)
	if err != nil {
		return nil, err
	}
	src, err := resolver.Repository(ctx, ref)
	if err != nil {
		return nil, err
	}
	desc, err := src.Resolve(ctx, ref.ReferenceOrDefault())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", source, err)
	}

	var entries []Entry
	if IsManifestList(desc.MediaType) {
		if _, _, entries, err = Fetch(ctx, src, desc); err != nil {
			return nil, err
		}
	} else {
		platform, err := PlatformOf(ctx, src, desc)
		if err != nil {
			return nil, err
		}
		desc.Platform = &platform
		entries = []Entry{FromDescriptor(desc)}
	}

	if dryRun || ref.Registry+"/"+ref.Repository == dstRepo {
		return entries, nil
	}
	for _, e := range entries {
		if err := oras.CopyGraph(ctx, src, dst, e.Descriptor(), oras.DefaultCopyGraphOptions); err != nil {
			return nil, fmt.Errorf("failed to copy %s from %s: %w", e.Digest, source, err)
		}
	}
	return entries, nil
}
