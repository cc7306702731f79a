package transfer_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2/content"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/bindings/go/registry/inmemory"
	"ocm.software/open-component-model/hangar/bindings/go/signing"
	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
)

var (
	linuxAMD64 = ocispec.Platform{OS: "linux", Architecture: "amd64"}
	linuxARM64 = ocispec.Platform{OS: "linux", Architecture: "arm64"}
)

func repository(t *testing.T, resolver registry.Resolver, name string) registry.Repository {
	t.Helper()
	ref, err := registry.ParseReference(name)
	require.NoError(t, err)
	repo, err := resolver.Repository(t.Context(), ref)
	require.NoError(t, err)
	return repo
}

func newArchive(t *testing.T) archive.Archive {
	t.Helper()
	a, err := archive.OpenFromOSPath(filepath.Join(t.TempDir(), "archive"), archive.O_RDWR|archive.O_CREATE)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func spec(line int, source, destination string) imagelist.TransferSpec {
	return imagelist.TransferSpec{Source: source, Destination: destination, Line: line, Format: imagelist.FormatPair}
}

// resolve returns the descriptor the tag of name points to.
func resolve(t *testing.T, resolver registry.Resolver, name string) ocispec.Descriptor {
	t.Helper()
	ref, err := registry.ParseReference(name)
	require.NoError(t, err)
	repo := repository(t, resolver, name)
	desc, err := repo.Resolve(t.Context(), ref.ReferenceOrDefault())
	require.NoError(t, err)
	return desc
}

// entries returns the manifest list entries name points to.
func entries(t *testing.T, resolver registry.Resolver, name string) []manifestlist.Entry {
	t.Helper()
	desc := resolve(t, resolver, name)
	_, _, list, err := manifestlist.Fetch(t.Context(), repository(t, resolver, name), desc)
	require.NoError(t, err)
	return list
}

func run(t *testing.T, runner *transfer.Runner, specs ...imagelist.TransferSpec) *transfer.Report {
	t.Helper()
	report, err := runner.Run(t.Context(), specs)
	require.NoError(t, err)
	return report
}

func mirror(src, dst *inmemory.Registry) *transfer.Runner {
	return &transfer.Runner{
		Source:      transfer.NewRegistrySource(src),
		Destination: transfer.NewRegistryDestination(dst),
		Workers:     4,
	}
}

// failingSource fails fetching the given digests.
type failingSource struct {
	transfer.Source
	fail map[digest.Digest]bool
}

func (s failingSource) Storage(ctx context.Context, spec imagelist.TransferSpec) (content.ReadOnlyStorage, error) {
	storage, err := s.Source.Storage(ctx, spec)
	if err != nil {
		return nil, err
	}
	return failingStorage{ReadOnlyStorage: storage, fail: s.fail}, nil
}

type failingStorage struct {
	content.ReadOnlyStorage
	fail map[digest.Digest]bool
}

var errInjected = errors.New("injected fetch failure")

func (s failingStorage) Fetch(ctx context.Context, desc ocispec.Descriptor) (io.ReadCloser, error) {
	if s.fail[desc.Digest] {
		return nil, errInjected
	}
	return s.ReadOnlyStorage.Fetch(ctx, desc)
}

type fakeSigner struct{}

func (fakeSigner) Sign(_ context.Context, dig digest.Digest) (signing.Signature, error) {
	return signing.Signature{Algorithm: "fake", MediaType: "application/vnd.test.fake", Digest: dig, Value: "signed " + dig.String()}, nil
}

func (fakeSigner) Verify(_ context.Context, dig digest.Digest, sig signing.Signature) error {
	if sig.Digest != dig || sig.Value != "signed "+dig.String() {
		return errors.New("bad signature")
	}
	return nil
}
