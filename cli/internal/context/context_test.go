package context

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/bindings/go/registry/inmemory"
	v1 "ocm.software/open-component-model/hangar/cli/configuration/v1"
)

func TestWithConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config *v1.Config
	}{
		{name: "basic config", config: &v1.Config{Jobs: 3, TempDir: "/tmp/test"}},
		{name: "empty config", config: &v1.Config{}},
		{name: "nil config", config: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			ctx := WithConfiguration(context.Background(), tt.config)
			hctx := FromContext(ctx)
			r.NotNil(hctx, "hangar context should be available")
			r.Equal(tt.config, hctx.Configuration())
		})
	}
}

func TestContextIsShared(t *testing.T) {
	r := require.New(t)
	ctx := WithTempDir(t.Context(), "/tmp/a")
	ctx = WithConfiguration(ctx, &v1.Config{Jobs: 1})
	hctx := FromContext(ctx)
	r.Equal("/tmp/a", hctx.TempDir())
	r.Equal(1, hctx.Configuration().Jobs)

	WithTempDir(ctx, "/tmp/b")
	r.Equal("/tmp/b", hctx.TempDir(), "setters on a registered context must update it in place")
}

func TestResolver(t *testing.T) {
	r := require.New(t)

	_, err := FromContext(WithTempDir(t.Context(), "")).Resolver()
	r.ErrorContains(err, "no registry session configured")

	calls := 0
	mem := inmemory.New()
	ctx := WithResolverFunc(t.Context(), func() (registry.Resolver, error) {
		calls++
		return mem, nil
	})
	hctx := FromContext(ctx)
	r.True(hctx.HasResolver())
	for range 3 {
		resolver, err := hctx.Resolver()
		r.NoError(err)
		r.Same(mem, resolver)
	}
	r.Equal(1, calls, "the resolver must only be created once")

	failing := WithResolverFunc(t.Context(), func() (registry.Resolver, error) {
		return nil, errors.New("no credentials")
	})
	_, err = FromContext(failing).Resolver()
	r.ErrorContains(err, "no credentials")
}

func TestNilContext(t *testing.T) {
	r := require.New(t)
	var hctx *Context
	r.Nil(hctx.Configuration())
	r.Empty(hctx.TempDir())
	r.False(hctx.HasResolver())
	_, err := hctx.Resolver()
	r.Error(err)
	r.Nil(FromContext(context.Background()))
}
