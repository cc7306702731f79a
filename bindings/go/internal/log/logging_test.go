package log

import (
	"bytes"
	"log/slog"
	"testing"

	ociImageSpecV1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	def := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(def)
	})
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "time" {
				return slog.Attr{}
			}
			return a
		}})))
	return &buf
}

func TestOperation(t *testing.T) {
	buf := captureDefault(t)
	ctx := t.Context()

	done := Operation(ctx, "archive", "test-operation", slog.String("test", "value"))
	assert.Equal(t, "level=DEBUG msg=\"operation starting\" realm=archive operation=test-operation test=value\n", buf.String())
	buf.Reset()
	done(nil)
	assert.Contains(t, buf.String(), "level=DEBUG msg=\"operation completed\" realm=archive operation=test-operation")
	buf.Reset()
	done(assert.AnError)
	assert.Contains(t, buf.String(), "level=ERROR msg=\"operation failed\" realm=archive operation=test-operation")
}

func TestWithAttrs(t *testing.T) {
	buf := captureDefault(t)
	ctx := WithAttrs(t.Context(), slog.String("image", "docker.io/library/nginx:1.25"))

	Realm(ctx, "transfer").InfoContext(ctx, "copying")
	assert.Equal(t, "level=INFO msg=copying image=docker.io/library/nginx:1.25 realm=transfer\n", buf.String())
}

func TestDescriptorLogAttr(t *testing.T) {
	attr := DescriptorLogAttr(ociImageSpecV1.Descriptor{
		MediaType:    "application/vnd.oci.image.manifest.v1+json",
		Digest:       "sha256:1234567890abcdef",
		Size:         1024,
		ArtifactType: "test-artifact",
		Platform:     &ociImageSpecV1.Platform{OS: "linux", Architecture: "arm64"},
	})
	assert.Equal(t, "descriptor", attr.Key)
	group := attr.Value.Group()
	assert.Len(t, group, 5)
	assert.Equal(t, "linux/arm64", group[4].Value.String())
}
