package transfer_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2/content"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/registry/inmemory"
	"ocm.software/open-component-model/hangar/bindings/go/registry/testimage"
	"ocm.software/open-component-model/hangar/bindings/go/signing"
	"ocm.software/open-component-model/hangar/bindings/go/transfer"
)

func TestRun_MirrorKeepsManifestListDigest(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	index, _ := testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)

	report := run(t, mirror(src, dst), spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25"))
	r.NoError(report.Err())
	r.Len(report.Results, 2)
	r.Equal(2, report.Succeeded())
	r.Positive(report.Bytes)
	r.Equal(index.Digest, resolve(t, dst, "dst.io/library/nginx:1.25").Digest)
}

func TestRun_MirrorFiltersPlatforms(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	index, manifests := testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)

	runner := mirror(src, dst)
	runner.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "arm64"}}
	report := run(t, runner, spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25"))
	r.NoError(report.Err())

	desc := resolve(t, dst, "dst.io/library/nginx:1.25")
	r.NotEqual(index.Digest, desc.Digest)
	list := entries(t, dst, "dst.io/library/nginx:1.25")
	r.Len(list, 1)
	r.Equal(manifests[1].Digest, list[0].Digest)

	// a second run for the other platform extends the destination list
	runner.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "amd64"}}
	report = run(t, runner, spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25"))
	r.NoError(report.Err())
	list = entries(t, dst, "dst.io/library/nginx:1.25")
	r.Len(list, 2)
	r.Equal(manifests[1].Digest, list[0].Digest)
	r.Equal(manifests[0].Digest, list[1].Digest)
}

func TestRun_SingleImage(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	desc := testimage.Single(t, repository(t, src, "src.io/library/busybox"), "1.36", linuxAMD64)

	report := run(t, mirror(src, dst), spec(1, "src.io/library/busybox:1.36", "dst.io/mirror/busybox:1.36"))
	r.NoError(report.Err())
	r.Equal(desc.Digest, resolve(t, dst, "dst.io/mirror/busybox:1.36").Digest)
	r.Equal("linux/amd64", report.Results[0].Platform.String())
}

func TestRun_SingleImageFilteredOut(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	testimage.Single(t, repository(t, src, "src.io/library/busybox"), "1.36", ocispec.Platform{OS: "linux", Architecture: "s390x"})

	failures := transfer.NewFailureTracker()
	runner := mirror(src, dst)
	runner.Failures = failures
	runner.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "amd64"}}
	busybox := spec(1, "src.io/library/busybox:1.36", "dst.io/library/busybox:1.36")
	report := run(t, runner, busybox)

	r.ErrorIs(report.Err(), transfer.ErrPartialFailure)
	r.ErrorIs(report.Err(), transfer.ErrAmbiguousReference)
	r.Empty(report.Results)
	r.Equal([]imagelist.TransferSpec{busybox}, failures.Specs())
	_, err := repository(t, dst, "dst.io/library/busybox").Resolve(t.Context(), "1.36")
	r.Error(err)
}

func TestRun_SingleImageExcludedByLinePlatform(t *testing.T) {
	r := require.New(t)
	src := inmemory.New()
	testimage.Single(t, repository(t, src, "src.io/library/busybox"), "1.36", linuxAMD64)

	a := newArchive(t)
	save := &transfer.Runner{Source: transfer.NewRegistrySource(src), Destination: transfer.NewArchiveDestination(a)}
	r.NoError(run(t, save, imagelist.TransferSpec{Source: "src.io/library/busybox:1.36", Line: 1}).Err())

	// the archive source keeps the platform of the stored manifest
	excluded := spec(1, "src.io/library/busybox:1.36", "dst.io/library/busybox:1.36")
	excluded.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "arm64"}}
	load := &transfer.Runner{Source: transfer.NewArchiveSource(a), Destination: transfer.NewRegistryDestination(inmemory.New())}
	report := run(t, load, excluded)
	r.ErrorIs(report.Err(), transfer.ErrAmbiguousReference)
	r.Empty(report.Results)

	included := spec(2, "src.io/library/busybox:1.36", "dst.io/library/busybox:1.36")
	included.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "amd64"}}
	r.NoError(run(t, load, included).Err())
}

func TestRun_AmbiguousPlatform(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64)

	runner := mirror(src, dst)
	runner.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "s390x"}}
	report := run(t, runner, spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25"))
	r.ErrorIs(report.Err(), transfer.ErrPartialFailure)
	r.ErrorIs(report.Err(), transfer.ErrAmbiguousReference)
	r.Empty(report.Results)
}

// Two list entries, one of which cannot be pulled: the other one still completes and
// the failed entry ends up in the failed list.
func TestRun_PartialFailure(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	testimage.Single(t, repository(t, src, "src.io/library/busybox"), "1.36", linuxAMD64)

	failures := transfer.NewFailureTracker()
	runner := mirror(src, dst)
	runner.Failures = failures
	missing := spec(1, "src.io/library/missing:1", "dst.io/library/missing:1")
	present := spec(2, "src.io/library/busybox:1.36", "dst.io/library/busybox:1.36")
	report := run(t, runner, missing, present)

	err := report.Err()
	r.ErrorIs(err, transfer.ErrPartialFailure)
	r.ErrorIs(err, transfer.ErrTransferFailed)
	r.Equal(1, failures.Len())
	r.Equal([]imagelist.TransferSpec{missing}, failures.Specs())
	resolve(t, dst, "dst.io/library/busybox:1.36")

	path := filepath.Join(t.TempDir(), "mirror-failed.txt")
	written, err := failures.WriteFile(path)
	r.NoError(err)
	r.True(written)
	data, err := os.ReadFile(path)
	r.NoError(err)
	r.Equal("src.io/library/missing:1 dst.io/library/missing:1\n", string(data))
}

func TestRun_JobFailureKeepsSiblings(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	_, manifests := testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)

	runner := mirror(src, dst)
	runner.Source = failingSource{Source: runner.Source, fail: map[digest.Digest]bool{manifests[1].Digest: true}}
	report := run(t, runner, spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25"))

	r.ErrorIs(report.Err(), transfer.ErrTransferFailed)
	r.ErrorIs(report.Err(), errInjected)
	r.Equal(1, report.Succeeded())
	r.Len(report.Failures, 1)

	list := entries(t, dst, "dst.io/library/nginx:1.25")
	r.Len(list, 1)
	r.Equal(manifests[0].Digest, list[0].Digest)
}

func TestRun_SaveThenLoadEqualsMirror(t *testing.T) {
	r := require.New(t)
	src := inmemory.New()
	testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)
	testimage.Single(t, repository(t, src, "src.io/library/busybox"), "1.36", linuxAMD64)
	sources := []string{"src.io/library/nginx:1.25", "src.io/library/busybox:1.36"}

	mirrored := inmemory.New()
	var mirrorSpecs []imagelist.TransferSpec
	for i, s := range sources {
		mirrorSpecs = append(mirrorSpecs, spec(i+1, s, "dst.io/"+s[len("src.io/"):]))
	}
	r.NoError(run(t, mirror(src, mirrored), mirrorSpecs...).Err())

	a := newArchive(t)
	save := &transfer.Runner{Source: transfer.NewRegistrySource(src), Destination: transfer.NewArchiveDestination(a), Workers: 2}
	var saveSpecs []imagelist.TransferSpec
	for i, s := range sources {
		saveSpecs = append(saveSpecs, imagelist.TransferSpec{Source: s, Line: i + 1})
	}
	r.NoError(run(t, save, saveSpecs...).Err())
	r.NoError(archive.Verify(t.Context(), a))

	loaded := inmemory.New()
	load := &transfer.Runner{Source: transfer.NewArchiveSource(a), Destination: transfer.NewRegistryDestination(loaded), Workers: 2}
	r.NoError(run(t, load, mirrorSpecs...).Err())

	for _, s := range mirrorSpecs {
		want, got := resolve(t, mirrored, s.Destination), resolve(t, loaded, s.Destination)
		r.Equal(want.Digest, got.Digest, s.Destination)
		r.Equal(want.MediaType, got.MediaType, s.Destination)
	}
	r.Equal(entries(t, mirrored, mirrorSpecs[0].Destination), entries(t, loaded, mirrorSpecs[0].Destination))
}

func TestRun_MergedArchivesLoadBothArchitectures(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	src := inmemory.New()
	_, manifests := testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)
	saveSpec := imagelist.TransferSpec{Source: "src.io/library/nginx:1.25", Line: 1}

	save := func(platform imagelist.Platform) archive.Archive {
		a := newArchive(t)
		runner := &transfer.Runner{
			Source:      transfer.NewRegistrySource(src),
			Destination: transfer.NewArchiveDestination(a),
			Platforms:   []imagelist.Platform{platform},
		}
		r.NoError(run(t, runner, saveSpec).Err())
		return a
	}
	amd64 := save(imagelist.Platform{OS: "linux", Architecture: "amd64"})
	arm64 := save(imagelist.Platform{OS: "linux", Architecture: "arm64"})

	merged := newArchive(t)
	r.NoError(archive.Merge(ctx, merged, amd64, arm64))

	dst := inmemory.New()
	load := &transfer.Runner{Source: transfer.NewArchiveSource(merged), Destination: transfer.NewRegistryDestination(dst), Workers: 3}
	r.NoError(run(t, load, spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25")).Err())

	list := entries(t, dst, "dst.io/library/nginx:1.25")
	r.Len(list, 2)
	r.ElementsMatch([]digest.Digest{manifests[0].Digest, manifests[1].Digest}, []digest.Digest{list[0].Digest, list[1].Digest})
}

func TestRun_Validate(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)
	testimage.Single(t, repository(t, src, "src.io/library/busybox"), "1.36", linuxAMD64)

	nginx := spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25")
	busybox := spec(2, "src.io/library/busybox:1.36", "dst.io/library/busybox:1.36")
	r.NoError(run(t, mirror(src, dst), nginx).Err())

	// a different image under the busybox tag
	other := testimage.Manifest(t, repository(t, dst, "dst.io/library/busybox"), linuxAMD64, "something else")
	r.NoError(repository(t, dst, "dst.io/library/busybox").Tag(t.Context(), other, "1.36"))

	validate := mirror(src, dst)
	validate.Action = transfer.ActionValidate
	report := run(t, validate, nginx, busybox, spec(3, "src.io/library/busybox:1.36", "dst.io/library/absent:1"))

	r.ErrorIs(report.Err(), transfer.ErrValidationMismatch)
	r.Len(report.Failures, 2)
	r.Equal(busybox, report.Failures[0].Spec)
	r.Equal(3, report.Failures[1].Spec.Line)
	r.Zero(report.Bytes)
	r.Equal(2, report.Succeeded())
}

func TestRun_ValidateArchive(t *testing.T) {
	r := require.New(t)
	src := inmemory.New()
	testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)
	a := newArchive(t)
	saveSpec := imagelist.TransferSpec{Source: "src.io/library/nginx:1.25", Line: 1}

	runner := &transfer.Runner{Source: transfer.NewRegistrySource(src), Destination: transfer.NewArchiveDestination(a)}
	r.NoError(run(t, runner, saveSpec).Err())

	runner.Action = transfer.ActionValidate
	r.NoError(run(t, runner, saveSpec).Err())

	runner.Destination = transfer.NewArchiveDestination(newArchive(t))
	report := run(t, runner, saveSpec)
	r.ErrorIs(report.Err(), transfer.ErrValidationMismatch)
	r.Len(report.Failures, 1)
}

func TestRun_Signatures(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	src := inmemory.New()
	srcRepo := repository(t, src, "src.io/library/busybox")
	desc := testimage.Single(t, srcRepo, "1.36", linuxAMD64)
	sig, err := fakeSigner{}.Sign(ctx, desc.Digest)
	r.NoError(err)
	_, err = signing.Attach(ctx, srcRepo, desc, sig)
	r.NoError(err)

	dst := inmemory.New()
	keep := spec(1, "src.io/library/busybox:1.36", "dst.io/keep/busybox:1.36")
	remove := spec(2, "src.io/library/busybox:1.36", "dst.io/remove/busybox:1.36")
	remove.Policy.RemoveSignatures = true
	r.NoError(run(t, mirror(src, dst), keep, remove).Err())

	found, err := signing.Find(ctx, repository(t, dst, keep.Destination).(content.ReadOnlyGraphStorage), desc)
	r.NoError(err)
	r.Equal([]signing.Signature{sig}, found)

	found, err = signing.Find(ctx, repository(t, dst, remove.Destination).(content.ReadOnlyGraphStorage), desc)
	r.NoError(err)
	r.Empty(found)
}

func TestRun_SignAndVerify(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	index, _ := testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)
	signed := spec(1, "src.io/library/nginx:1.25", "dst.io/signed/nginx:1.25")
	unsigned := spec(2, "src.io/library/nginx:1.25", "dst.io/unsigned/nginx:1.25")

	runner := mirror(src, dst)
	runner.Signer = fakeSigner{}
	r.NoError(run(t, runner, signed).Err())
	r.NoError(run(t, mirror(src, dst), unsigned).Err())

	found, err := signing.Find(t.Context(), repository(t, dst, signed.Destination).(content.ReadOnlyGraphStorage), index)
	r.NoError(err)
	r.Len(found, 1)

	validate := mirror(src, dst)
	validate.Action = transfer.ActionValidate
	validate.Verifier = fakeSigner{}
	report := run(t, validate, signed, unsigned)
	r.Len(report.Failures, 1)
	r.Equal(unsigned, report.Failures[0].Spec)
	r.ErrorIs(report.Err(), signing.ErrNoSignature)
}

func TestRun_Provenance(t *testing.T) {
	r := require.New(t)
	src := inmemory.New()
	repo := repository(t, src, "src.io/org/app")
	amd64 := testimage.Manifest(t, repo, linuxAMD64, "amd64")
	arm64 := testimage.Manifest(t, repo, linuxARM64, "arm64")
	attAMD64 := testimage.Attestation(t, repo, amd64)
	attARM64 := testimage.Attestation(t, repo, arm64)
	index := testimage.Index(t, repo, amd64, attAMD64, arm64, attARM64)
	r.NoError(repo.Tag(t.Context(), index, "v1"))

	dst := inmemory.New()
	with := spec(1, "src.io/org/app:v1", "dst.io/with/app:v1")
	with.Policy.IncludeProvenance = true
	without := spec(2, "src.io/org/app:v1", "dst.io/without/app:v1")

	runner := mirror(src, dst)
	runner.Platforms = []imagelist.Platform{{OS: "linux", Architecture: "amd64"}}
	r.NoError(run(t, runner, with, without).Err())

	list := entries(t, dst, with.Destination)
	r.Len(list, 2)
	r.Equal(amd64.Digest, list[0].Digest)
	r.Equal(attAMD64.Digest, list[1].Digest)
	r.True(list[1].IsAttestation())

	list = entries(t, dst, without.Destination)
	r.Len(list, 1)
	r.Equal(amd64.Digest, list[0].Digest)
}

type countingObserver struct {
	planned, finished atomic.Int32
}

func (o *countingObserver) Planned(transfer.Job)             { o.planned.Add(1) }
func (o *countingObserver) Finished(transfer.JobResult)     { o.finished.Add(1) }

type fakeScanner struct{}

func (fakeScanner) Scan(_ context.Context, reference string, desc ocispec.Descriptor) (transfer.ScanReport, error) {
	return transfer.ScanReport{Reference: reference, Digest: desc.Digest.String(), Findings: map[string]int{"HIGH": 1}}, nil
}

func TestRun_ObserverAndScanner(t *testing.T) {
	r := require.New(t)
	src, dst := inmemory.New(), inmemory.New()
	index, _ := testimage.MultiArch(t, repository(t, src, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)

	observer := &countingObserver{}
	runner := mirror(src, dst)
	runner.Observer = observer
	runner.Scanner = fakeScanner{}
	runner.Workers = 100
	report := run(t, runner, spec(1, "src.io/library/nginx:1.25", "dst.io/library/nginx:1.25"))
	r.NoError(report.Err())

	r.EqualValues(2, observer.planned.Load())
	r.EqualValues(2, observer.finished.Load())
	r.Equal([]transfer.ScanReport{{Reference: "dst.io/library/nginx:1.25", Digest: index.Digest.String(), Findings: map[string]int{"HIGH": 1}}}, report.Scans)
}

func TestRun_RequiresSourceAndDestination(t *testing.T) {
	_, err := (&transfer.Runner{}).Run(t.Context(), nil)
	require.Error(t, err)
}
