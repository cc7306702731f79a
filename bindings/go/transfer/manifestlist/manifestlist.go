// Package manifestlist reconciles multi-platform manifest lists.
//
// Entries are keyed by platform (os, architecture, variant). Attestation manifests, which
// describe another entry, are keyed by the digest of the entry they describe.
package manifestlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
)

// Docker media types next to the OCI ones.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

	// AnnotationReferenceType marks attestation manifests inside a list.
	AnnotationReferenceType = "vnd.docker.reference.type"
	// AnnotationReferenceDigest is the digest of the manifest an attestation describes.
	AnnotationReferenceDigest = "vnd.docker.reference.digest"
	// ReferenceTypeAttestation is the AnnotationReferenceType value of attestations.
	ReferenceTypeAttestation = "attestation-manifest"
)

var ErrNotAManifestList = errors.New("not a manifest list")

// Entry is one manifest of a manifest list.
type Entry struct {
	Platform    ocispec.Platform
	Digest      digest.Digest
	MediaType   string
	Size        int64
	Annotations map[string]string
}

// FromDescriptor returns the entry described by desc. A missing platform stays empty.
func FromDescriptor(desc ocispec.Descriptor) Entry {
	e := Entry{
		Digest:      desc.Digest,
		MediaType:   desc.MediaType,
		Size:        desc.Size,
		Annotations: desc.Annotations,
	}
	if desc.Platform != nil {
		e.Platform = *desc.Platform
	}
	return e
}

// Descriptor renders e as a descriptor of a manifest list.
func (e Entry) Descriptor() ocispec.Descriptor {
	platform := e.Platform
	return ocispec.Descriptor{
		MediaType:   e.MediaType,
		Digest:      e.Digest,
		Size:        e.Size,
		Platform:    &platform,
		Annotations: e.Annotations,
	}
}

// IsAttestation reports whether e describes another entry of the list.
func (e Entry) IsAttestation() bool {
	return e.Annotations[AnnotationReferenceType] == ReferenceTypeAttestation
}

// Key identifies the slot of e in a manifest list.
func (e Entry) Key() string {
	key := e.Platform.OS + "/" + e.Platform.Architecture
	if e.Platform.Variant != "" {
		key += "/" + e.Platform.Variant
	}
	if e.IsAttestation() {
		key += "@" + e.Annotations[AnnotationReferenceDigest]
	}
	return key
}

// Key identifies the slot of desc in a manifest list.
func Key(desc ocispec.Descriptor) string {
	return FromDescriptor(desc).Key()
}

// IsManifestList reports whether mediaType is an OCI index or a Docker manifest list.
func IsManifestList(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageIndex || mediaType == MediaTypeDockerManifestList
}

// IsManifest reports whether mediaType is a single platform manifest.
func IsManifest(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageManifest || mediaType == MediaTypeDockerManifest
}

// Reconcile merges pushed into existing.
// An entry of pushed replaces the existing entry with the same key, entries of existing
// that are not pushed again are kept. Existing entries keep their order, new entries are
// appended in the order of pushed.
func Reconcile(existing, pushed []Entry) []Entry {
	result := slices.Clone(existing)
	positions := make(map[string]int, len(result))
	for i, e := range result {
		positions[e.Key()] = i
	}
	for _, e := range pushed {
		if i, ok := positions[e.Key()]; ok {
			result[i] = e
			continue
		}
		positions[e.Key()] = len(result)
		result = append(result, e)
	}
	return result
}

// Contains reports whether every entry of pushed is already part of existing with the same digest.
func Contains(existing, pushed []Entry) bool {
	digests := make(map[string]digest.Digest, len(existing))
	for _, e := range existing {
		digests[e.Key()] = e.Digest
	}
	for _, e := range pushed {
		if digests[e.Key()] != e.Digest {
			return false
		}
	}
	return true
}

// Build renders entries as a manifest list. The list is a Docker manifest list if every
// entry is a Docker manifest and an OCI index otherwise.
func Build(entries []Entry, annotations map[string]string) (ocispec.Index, []byte, error) {
	if len(entries) == 0 {
		return ocispec.Index{}, nil, errors.New("cannot build an empty manifest list")
	}
	mediaType := MediaTypeDockerManifestList
	manifests := make([]ocispec.Descriptor, 0, len(entries))
	for _, e := range entries {
		if e.MediaType != MediaTypeDockerManifest {
			mediaType = ocispec.MediaTypeImageIndex
		}
		manifests = append(manifests, e.Descriptor())
	}
	index := ocispec.Index{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   mediaType,
		Manifests:   manifests,
		Annotations: annotations,
	}
	raw, err := json.Marshal(index)
	if err != nil {
		return ocispec.Index{}, nil, fmt.Errorf("failed to encode manifest list: %w", err)
	}
	return index, raw, nil
}

// Parse decodes a manifest list and returns its entries.
func Parse(mediaType string, raw []byte) (ocispec.Index, []Entry, error) {
	if !IsManifestList(mediaType) {
		return ocispec.Index{}, nil, fmt.Errorf("%w: %s", ErrNotAManifestList, mediaType)
	}
	var index ocispec.Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return ocispec.Index{}, nil, fmt.Errorf("failed to decode manifest list: %w", err)
	}
	entries := make([]Entry, 0, len(index.Manifests))
	for _, desc := range index.Manifests {
		entries = append(entries, FromDescriptor(desc))
	}
	return index, entries, nil
}

// Fetch reads the manifest list desc from fetcher.
func Fetch(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor) (ocispec.Index, []byte, []Entry, error) {
	if !IsManifestList(desc.MediaType) {
		return ocispec.Index{}, nil, nil, fmt.Errorf("%w: %s", ErrNotAManifestList, desc.MediaType)
	}
	raw, err := content.FetchAll(ctx, fetcher, desc)
	if err != nil {
		return ocispec.Index{}, nil, nil, fmt.Errorf("failed to fetch manifest list %s: %w", desc.Digest, err)
	}
	index, entries, err := Parse(desc.MediaType, raw)
	return index, raw, entries, err
}

// PlatformOf returns the platform of the single platform manifest desc, read from its image config.
func PlatformOf(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor) (ocispec.Platform, error) {
	if desc.Platform != nil {
		return *desc.Platform, nil
	}
	raw, err := content.FetchAll(ctx, fetcher, desc)
	if err != nil {
		return ocispec.Platform{}, fmt.Errorf("failed to fetch manifest %s: %w", desc.Digest, err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return ocispec.Platform{}, fmt.Errorf("failed to decode manifest %s: %w", desc.Digest, err)
	}
	if manifest.Config.Platform != nil {
		return *manifest.Config.Platform, nil
	}
	configRaw, err := content.FetchAll(ctx, fetcher, manifest.Config)
	if err != nil {
		return ocispec.Platform{}, fmt.Errorf("failed to fetch config %s: %w", manifest.Config.Digest, err)
	}
	var config ocispec.Image
	if err := json.Unmarshal(configRaw, &config); err != nil {
		return ocispec.Platform{}, fmt.Errorf("failed to decode config %s: %w", manifest.Config.Digest, err)
	}
	return config.Platform, nil
}
