package v1_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
)

func spec(os, arch, dig string, layers ...string) v1.ImageSpec {
	return v1.ImageSpec{
		OS:        os,
		Arch:      arch,
		MediaType: "application/vnd.oci.image.manifest.v1+json",
		Digest:    dig,
		Config:    "sha256:config-" + arch,
		Layers:    layers,
	}
}

func TestAddImage_MergesPlatforms(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()

	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Images: []v1.ImageSpec{
		spec("linux", "amd64", "sha256:a1", "sha256:l1"),
	}})
	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", MediaType: "application/vnd.oci.image.index.v1+json", Images: []v1.ImageSpec{
		spec("linux", "arm64", "sha256:b1", "sha256:l2"),
		spec("linux", "amd64", "sha256:a2", "sha256:l3"),
	}})

	images := idx.Images()
	r.Len(images, 1)
	img := images[0]
	r.Equal("application/vnd.oci.image.index.v1+json", img.MediaType)
	r.Len(img.Images, 2)
	r.Equal("sha256:a2", img.Images[0].Digest, "newer spec of the same platform must win")
	r.Equal("sha256:b1", img.Images[1].Digest)
	r.Equal([]string{"amd64", "arm64"}, img.ArchList)
	r.Equal([]string{"linux"}, img.OSList)
	r.Equal("docker.io/library/nginx:1.25", img.Reference())
}

func TestAddImage_AttestationsAreKeptApart(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()

	att := func(dig, ref string) v1.ImageSpec {
		s := spec("unknown", "unknown", dig)
		s.Annotations = map[string]string{v1.AnnotationReferenceDigest: ref}
		return s
	}
	idx.AddImage(v1.Image{Source: "ghcr.io/org/app", Tag: "v1", Images: []v1.ImageSpec{
		spec("linux", "amd64", "sha256:a"),
		att("sha256:att-a", "sha256:a"),
		spec("linux", "arm64", "sha256:b"),
		att("sha256:att-b", "sha256:b"),
	}})

	img, ok := idx.Image("ghcr.io/org/app", "v1")
	r.True(ok)
	r.Len(img.Images, 4)
	r.Equal([]string{"amd64", "arm64"}, img.ArchList)
}

func TestImagesReturnsSnapshot(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()
	idx.AddImage(v1.Image{Source: "docker.io/library/busybox", Tag: "latest", Images: []v1.ImageSpec{
		spec("linux", "amd64", "sha256:a", "sha256:l1"),
	}})

	images := idx.Images()
	images[0].Images[0].Layers[0] = "changed"

	img, ok := idx.Image("docker.io/library/busybox", "latest")
	r.True(ok)
	r.Equal("sha256:l1", img.Images[0].Layers[0])
}

func TestObjects(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()

	r.False(idx.AddObject(v1.Object{Name: "chart.tgz", Digest: "sha256:c1"}))
	r.False(idx.AddObject(v1.Object{Name: "notes.txt", Digest: "sha256:n1"}))
	r.True(idx.AddObject(v1.Object{Name: "chart.tgz", Digest: "sha256:c2"}))

	objects := idx.Objects()
	r.Len(objects, 2)
	r.Equal("chart.tgz", objects[0].Name)
	r.Equal("sha256:c2", objects[0].Digest)

	_, ok := idx.Object("missing")
	r.False(ok)
}

func TestRemoveImage(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()
	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1"})
	r.True(idx.RemoveImage("docker.io/library/nginx", "1"))
	r.False(idx.RemoveImage("docker.io/library/nginx", "1"))
	r.Empty(idx.Images())
}

func TestMergeAndDigests(t *testing.T) {
	r := require.New(t)
	a, b := v1.NewIndex(), v1.NewIndex()
	a.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1", Images: []v1.ImageSpec{
		spec("linux", "amd64", "sha256:m1", "sha256:shared", "sha256:l1"),
	}})
	b.AddImage(v1.Image{Source: "docker.io/library/redis", Tag: "7", Images: []v1.ImageSpec{
		spec("linux", "amd64", "sha256:m2", "sha256:shared"),
	}})
	b.AddObject(v1.Object{Name: "file", Digest: "sha256:o1"})

	a.Merge(b)
	r.Len(a.Images(), 2)
	r.Len(a.Objects(), 1)

	r.Equal([]string{
		"sha256:config-amd64",
		"sha256:l1",
		"sha256:m1",
		"sha256:m2",
		"sha256:o1",
		"sha256:shared",
	}, a.Digests())
}

func TestEncodeDecode(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()
	idx.Touch(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1", Images: []v1.ImageSpec{
		spec("linux", "amd64", "sha256:m1", "sha256:l1"),
	}})

	data, err := v1.Encode(idx)
	r.NoError(err)
	r.Contains(string(data), `"version": "v1.2.0"`)

	decoded, err := v1.DecodeIndex(bytes.NewReader(data))
	r.NoError(err)
	r.Equal(idx.Images(), decoded.Images())
	r.Equal(v1.Version, decoded.Version())
}

func TestDecodeIndex_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		errText string
	}{
		{name: "older version", input: `{"version":"v1.0.0","images":[]}`, wantErr: v1.ErrIncompatibleVersion},
		{name: "next major", input: `{"version":"v2.0.0","images":[]}`, wantErr: v1.ErrIncompatibleVersion},
		{name: "no version", input: `{"images":[]}`, wantErr: v1.ErrIncompatibleVersion},
		{name: "unknown field", input: `{"version":"v1.2.0","images":[],"extra":true}`, errText: "unknown field"},
		{name: "invalid json", input: `{`, errText: "unexpected EOF"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			_, err := v1.DecodeIndex(strings.NewReader(tc.input))
			r.Error(err)
			if tc.wantErr != nil {
				r.ErrorIs(err, tc.wantErr)
			}
			if tc.errText != "" {
				r.Contains(err.Error(), tc.errText)
			}
		})
	}
}

func TestDecodeIndex_NewerMinor(t *testing.T) {
	r := require.New(t)
	_, err := v1.DecodeIndex(strings.NewReader(`{"version":"v1.3.0","images":[]}`))
	r.NoError(err)
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref, source, tag string
	}{
		{"docker.io/library/nginx:1.25", "docker.io/library/nginx", "1.25"},
		{"localhost:5000/app", "localhost:5000/app", "latest"},
		{"localhost:5000/app:v1", "localhost:5000/app", "v1"},
		{"ghcr.io/org/app@sha256:abc", "ghcr.io/org/app", "sha256:abc"},
	}
	for _, tc := range tests {
		t.Run(tc.ref, func(t *testing.T) {
			r := require.New(t)
			source, tag := v1.ParseReference(tc.ref)
			r.Equal(tc.source, source)
			r.Equal(tc.tag, tag)
		})
	}
}

func TestAddImage_ListDigest(t *testing.T) {
	r := require.New(t)
	idx := v1.NewIndex()
	amd64 := spec("linux", "amd64", "sha256:a1")
	arm64 := spec("linux", "arm64", "sha256:b1")

	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Digest: "sha256:list1", Images: []v1.ImageSpec{amd64, arm64}})
	img, ok := idx.Image("docker.io/library/nginx", "1.25")
	r.True(ok)
	r.Equal("sha256:list1", img.Digest)
	r.Contains(idx.Digests(), "sha256:list1")

	// the same platforms again keep the newer list
	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Digest: "sha256:list2", Images: []v1.ImageSpec{amd64, arm64}})
	img, _ = idx.Image("docker.io/library/nginx", "1.25")
	r.Equal("sha256:list2", img.Digest)

	// a subset of identical platforms is still described by the stored list
	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Digest: "sha256:list3", Images: []v1.ImageSpec{arm64}})
	img, _ = idx.Image("docker.io/library/nginx", "1.25")
	r.Equal("sha256:list2", img.Digest)
	r.NotContains(idx.Digests(), "sha256:list3")

	// a changed platform manifest no longer matches any stored list
	idx.AddImage(v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Images: []v1.ImageSpec{spec("linux", "arm64", "sha256:b2")}})
	img, _ = idx.Image("docker.io/library/nginx", "1.25")
	r.Empty(img.Digest)
	r.NotContains(idx.Digests(), "sha256:list2")
}

func TestAddImage_ListDigestIsOrderIndependent(t *testing.T) {
	amd64 := spec("linux", "amd64", "sha256:a1")
	arm64 := spec("linux", "arm64", "sha256:b1")
	full := v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Digest: "sha256:list", Images: []v1.ImageSpec{amd64, arm64}}
	partial := v1.Image{Source: "docker.io/library/nginx", Tag: "1.25", Images: []v1.ImageSpec{amd64}}

	for name, order := range map[string][]v1.Image{
		"full first":    {full, partial},
		"partial first": {partial, full},
	} {
		t.Run(name, func(t *testing.T) {
			r := require.New(t)
			idx := v1.NewIndex()
			for _, img := range order {
				idx.AddImage(img)
			}
			img, ok := idx.Image("docker.io/library/nginx", "1.25")
			r.True(ok)
			r.Equal("sha256:list", img.Digest)
			r.Len(img.Images, 2)
			r.ElementsMatch([]string{"amd64", "arm64"}, img.ArchList)
		})
	}
}
