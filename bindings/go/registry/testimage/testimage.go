// Package testimage builds small container images in OCI stores for tests.
package testimage

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
)

const attestationType = "attestation-manifest"

// Platform parses os/arch[/variant] without validation.
func Platform(os, arch, variant string) ocispec.Platform {
	return ocispec.Platform{OS: os, Architecture: arch, Variant: variant}
}

// Manifest pushes a single platform image with one layer holding layer and returns its
// manifest descriptor including the platform.
func Manifest(t testing.TB, target content.Storage, platform ocispec.Platform, layer string) ocispec.Descriptor {
	t.Helper()
	r := require.New(t)
	ctx := t.Context()

	config, err := json.Marshal(ocispec.Image{
		Platform: platform,
		RootFS:   ocispec.RootFS{Type: "layers"},
	})
	r.NoError(err)
	configDesc := push(t, target, ocispec.MediaTypeImageConfig, config)
	layerDesc := push(t, target, ocispec.MediaTypeImageLayer, []byte(layer))

	desc, err := oras.PackManifest(ctx, target, oras.PackManifestVersion1_1, "", oras.PackManifestOptions{
		ConfigDescriptor: &configDesc,
		Layers:           []ocispec.Descriptor{layerDesc},
	})
	r.NoError(err)
	desc.Platform = &platform
	return desc
}

// Attestation pushes an attestation manifest describing subject as it appears in a
// buildkit manifest list.
func Attestation(t testing.TB, target content.Storage, subject ocispec.Descriptor) ocispec.Descriptor {
	t.Helper()
	unknown := ocispec.Platform{OS: "unknown", Architecture: "unknown"}
	desc := Manifest(t, target, unknown, "attestation of "+subject.Digest.String())
	desc.Annotations = map[string]string{
		"vnd.docker.reference.type":   attestationType,
		"vnd.docker.reference.digest": subject.Digest.String(),
	}
	return desc
}

// Index pushes an OCI index of manifests.
func Index(t testing.TB, target content.Storage, manifests ...ocispec.Descriptor) ocispec.Descriptor {
	t.Helper()
	raw, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: manifests,
	})
	require.NoError(t, err)
	return push(t, target, ocispec.MediaTypeImageIndex, raw)
}

// MultiArch pushes one image per platform, an index over them and tags the index.
func MultiArch(t testing.TB, target oras.Target, tag string, platforms ...ocispec.Platform) (ocispec.Descriptor, []ocispec.Descriptor) {
	t.Helper()
	manifests := make([]ocispec.Descriptor, 0, len(platforms))
	for _, p := range platforms {
		manifests = append(manifests, Manifest(t, target, p, tag+" "+p.OS+"/"+p.Architecture+"/"+p.Variant))
	}
	index := Index(t, target, manifests...)
	require.NoError(t, target.Tag(t.Context(), index, tag))
	return index, manifests
}

// Single pushes and tags a single platform image.
func Single(t testing.TB, target oras.Target, tag string, platform ocispec.Platform) ocispec.Descriptor {
	t.Helper()
	desc := Manifest(t, target, platform, tag+" "+platform.OS+"/"+platform.Architecture)
	require.NoError(t, target.Tag(t.Context(), desc, tag))
	return desc
}

func push(t testing.TB, target content.Storage, mediaType string, data []byte) ocispec.Descriptor {
	t.Helper()
	desc := content.NewDescriptorFromBytes(mediaType, data)
	exists, err := target.Exists(t.Context(), desc)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, target.Push(t.Context(), desc, bytes.NewReader(data)))
	}
	return desc
}
