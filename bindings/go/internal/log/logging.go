// Package log provides the structured logging helpers shared by the hangar bindings.
//
// Loggers travel with the context: callers annotate a context once (for example with the
// image and platform a worker handles) and every helper below picks those attributes up.
package log

import (
	"context"
	"log/slog"
	"time"

	ociImageSpecV1 "github.com/opencontainers/image-spec/specs-go/v1"
	slogcontext "github.com/veqryn/slog-context"
)

// FromContext returns the logger stored in ctx or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	return slogcontext.FromCtx(ctx)
}

// Realm returns the logger of ctx annotated with the realm of the calling package.
func Realm(ctx context.Context, realm string) *slog.Logger {
	return FromContext(ctx).With(slog.String("realm", realm))
}

// WithAttrs stores a logger with the given attributes in the returned context.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return slogcontext.NewCtx(ctx, FromContext(ctx).With(args...))
}

// Operation is a helper function to log operations with timing and error handling.
func Operation(ctx context.Context, realm, operation string, fields ...slog.Attr) func(error) {
	start := time.Now()
	attrs := make([]any, 0, len(fields)+1)
	attrs = append(attrs, slog.String("operation", operation))
	for _, field := range fields {
		attrs = append(attrs, field)
	}
	logger := Realm(ctx, realm).With(attrs...)
	logger.Log(ctx, slog.LevelDebug, "operation starting")
	return func(err error) {
		if err != nil {
			logger.Log(ctx, slog.LevelError, "operation failed", slog.Duration("duration", time.Since(start)), ErrorAttr(err))
		} else {
			logger.Log(ctx, slog.LevelDebug, "operation completed", slog.Duration("duration", time.Since(start)))
		}
	}
}

// ErrorAttr returns the error attribute used across all realms.
func ErrorAttr(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// DescriptorLogAttr creates a log attribute for an OCI descriptor.
func DescriptorLogAttr(descriptor ociImageSpecV1.Descriptor) slog.Attr {
	args := []any{
		slog.String("mediaType", descriptor.MediaType),
		slog.String("digest", descriptor.Digest.String()),
		slog.Int64("size", descriptor.Size),
	}
	if descriptor.ArtifactType != "" {
		args = append(args, slog.String("artifactType", descriptor.ArtifactType))
	}
	if p := descriptor.Platform; p != nil {
		args = append(args, slog.String("platform", p.OS+"/"+p.Architecture))
	}
	return slog.Group("descriptor", args...)
}
