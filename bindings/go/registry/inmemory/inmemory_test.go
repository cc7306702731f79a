package inmemory_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"

	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/bindings/go/registry/inmemory"
)

func TestRegistry(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	reg := inmemory.New()

	ref, err := registry.ParseReference("localhost:5000/app:v1")
	r.NoError(err)
	_, ok := reg.Lookup(ref)
	r.False(ok)

	repo, err := reg.Repository(ctx, ref)
	r.NoError(err)
	desc, err := oras.TagBytes(ctx, repo, "application/vnd.test", []byte("data"), "v1")
	r.NoError(err)

	store, ok := reg.Lookup(ref)
	r.True(ok)
	resolved, err := store.Resolve(ctx, "v1")
	r.NoError(err)
	r.Equal(desc.Digest, resolved.Digest)

	data, err := content.FetchAll(ctx, repo, desc)
	r.NoError(err)
	r.Equal("data", string(data))

	otherRef, err := registry.ParseReference("localhost:5000/other:v1")
	r.NoError(err)
	other, err := reg.Repository(ctx, otherRef)
	r.NoError(err)
	exists, err := other.Exists(ctx, desc)
	r.NoError(err)
	r.False(exists)
}
