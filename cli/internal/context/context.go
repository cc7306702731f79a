package context

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/registry"
	v1 "ocm.software/open-component-model/hangar/cli/configuration/v1"
)

type ctxKey string

const key ctxKey = "ocm.software/open-component-model/hangar/cli/internal/context"

// Context is the hangar command line context.
// It contains pointers to centrally managed structures that are created
// once per command invocation and shared by all parts of the command.
//
// The Context should only be used to transfer centrally passed struct pointers
type Context struct {
	mu sync.RWMutex

	// configuration holds the defaults of the configuration file.
	// In case no file was found, it is empty but never nil after setup.
	configuration *v1.Config

	// resolver opens registry repositories. It is created on first use so that
	// commands which never talk to a registry do not need credentials.
	resolver func() (registry.Resolver, error)

	// tempDir is the directory TAR based archives are extracted into.
	tempDir string
}

// WithConfiguration creates a new context with the given configuration.
// After this function is called, the configuration can be retrieved from the context
// using [FromContext] and [Context.Configuration].
func WithConfiguration(ctx context.Context, cfg *v1.Config) context.Context {
	ctx, hctx := retrieveOrCreateContext(ctx)
	hctx.mu.Lock()
	defer hctx.mu.Unlock()
	hctx.configuration = cfg
	return ctx
}

// WithResolver creates a new context that resolves registry repositories with resolver.
func WithResolver(ctx context.Context, resolver registry.Resolver) context.Context {
	return WithResolverFunc(ctx, func() (registry.Resolver, error) {
		return resolver, nil
	})
}

// WithResolverFunc creates a new context that creates its resolver with fn once on first use.
func WithResolverFunc(ctx context.Context, fn func() (registry.Resolver, error)) context.Context {
	ctx, hctx := retrieveOrCreateContext(ctx)
	hctx.mu.Lock()
	defer hctx.mu.Unlock()
	hctx.resolver = sync.OnceValues(fn)
	return ctx
}

// WithTempDir creates a new context with the given temporary directory.
func WithTempDir(ctx context.Context, dir string) context.Context {
	ctx, hctx := retrieveOrCreateContext(ctx)
	hctx.mu.Lock()
	defer hctx.mu.Unlock()
	hctx.tempDir = dir
	return ctx
}

// Register registers the command to contain a new Context object.
func Register(cmd *cobra.Command) {
	ctx, _ := retrieveOrCreateContext(cmd.Context())
	cmd.SetContext(ctx)
}

func (ctx *Context) Configuration() *v1.Config {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.configuration
}

// HasResolver reports whether a resolver was configured.
func (ctx *Context) HasResolver() bool {
	if ctx == nil {
		return false
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.resolver != nil
}

// Resolver returns the registry resolver of the command, creating it on first use.
func (ctx *Context) Resolver() (registry.Resolver, error) {
	if ctx == nil {
		return nil, errors.New("no hangar context available")
	}
	ctx.mu.RLock()
	fn := ctx.resolver
	ctx.mu.RUnlock()
	if fn == nil {
		return nil, errors.New("no registry session configured")
	}
	return fn()
}

func (ctx *Context) TempDir() string {
	if ctx == nil {
		return ""
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.tempDir
}

// FromContext retrieves the hangar context from the given context.
// If the hangar context does not exist, it returns nil.
// Within a command or subcommand which was registered with [Register],
// the context is always available and guaranteed to be present.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}

	if v, ok := ctx.Value(key).(*Context); ok {
		return v
	}
	return nil
}

// WithContext creates a new context with the given hangar context.
func WithContext(ctx context.Context, c *Context) context.Context {
	if c == nil {
		return nil
	}
	return context.WithValue(ctx, key, c)
}

func retrieveOrCreateContext(ctx context.Context) (context.Context, *Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	hctx := FromContext(ctx)
	if hctx == nil {
		hctx = &Context{}
		ctx = WithContext(ctx, hctx)
	}
	return ctx, hctx
}
