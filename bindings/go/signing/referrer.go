package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry"
)

const (
	// ArtifactType is the artifact type of signature referrers.
	ArtifactType = "application/vnd.hangar.signature.v1+json"
	// MediaTypeSignature is the media type of the layer carrying the Signature.
	MediaTypeSignature = "application/vnd.hangar.signature.layer.v1+json"

	AnnotationAlgorithm = "software.hangar.signature.algorithm"
)

var ErrNoSignature = errors.New("no signature found")

// Attach pushes sig as a referrer of subject and returns the referrer manifest.
func Attach(ctx context.Context, pusher content.Pusher, subject ocispec.Descriptor, sig Signature) (ocispec.Descriptor, error) {
	raw, err := json.Marshal(sig)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to encode signature: %w", err)
	}
	layer, err := oras.PushBytes(ctx, pusher, MediaTypeSignature, raw)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to push signature: %w", err)
	}
	return oras.PackManifest(ctx, pusher, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Subject: &subject,
		Layers:  []ocispec.Descriptor{layer},
		ManifestAnnotations: map[string]string{
			AnnotationAlgorithm: sig.Algorithm,
		},
	})
}

// Find returns all signatures attached to subject in storage.
func Find(ctx context.Context, storage content.ReadOnlyGraphStorage, subject ocispec.Descriptor) ([]Signature, error) {
	referrers, err := registry.Referrers(ctx, storage, subject, ArtifactType)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures of %s: %w", subject.Digest, err)
	}
	var signatures []Signature
	for _, referrer := range referrers {
		raw, err := content.FetchAll(ctx, storage, referrer)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch signature manifest %s: %w", referrer.Digest, err)
		}
		var manifest ocispec.Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			return nil, fmt.Errorf("failed to decode signature manifest %s: %w", referrer.Digest, err)
		}
		for _, layer := range manifest.Layers {
			if layer.MediaType != MediaTypeSignature {
				continue
			}
			data, err := content.FetchAll(ctx, storage, layer)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch signature %s: %w", layer.Digest, err)
			}
			var sig Signature
			if err := json.Unmarshal(data, &sig); err != nil {
				return nil, fmt.Errorf("failed to decode signature %s: %w", layer.Digest, err)
			}
			signatures = append(signatures, sig)
		}
	}
	return signatures, nil
}

// VerifyAttached succeeds if any signature attached to subject verifies.
func VerifyAttached(ctx context.Context, storage content.ReadOnlyGraphStorage, subject ocispec.Descriptor, verifier Verifier) error {
	signatures, err := Find(ctx, storage, subject)
	if err != nil {
		return err
	}
	if len(signatures) == 0 {
		return fmt.Errorf("%w for %s", ErrNoSignature, subject.Digest)
	}
	var errs []error
	for _, sig := range signatures {
		err := verifier.Verify(ctx, subject.Digest, sig)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no valid signature for %s: %w", subject.Digest, errors.Join(errs...))
}
