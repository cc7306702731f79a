package cmd_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/bindings/go/registry/inmemory"
	"ocm.software/open-component-model/hangar/bindings/go/registry/testimage"
	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	"ocm.software/open-component-model/hangar/bindings/go/transfer/manifestlist"
	"ocm.software/open-component-model/hangar/cli/cmd/internal/test"
	"ocm.software/open-component-model/hangar/cli/cmd/version"
)

var (
	linuxAMD64 = ocispec.Platform{OS: "linux", Architecture: "amd64"}
	linuxARM64 = ocispec.Platform{OS: "linux", Architecture: "arm64"}
)

// isolate keeps configuration files of the user out of the test.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

func repository(t *testing.T, resolver registry.Resolver, name string) registry.Repository {
	t.Helper()
	ref, err := registry.ParseReference(name)
	require.NoError(t, err)
	repo, err := resolver.Repository(t.Context(), ref)
	require.NoError(t, err)
	return repo
}

func resolve(t *testing.T, resolver registry.Resolver, name string) ocispec.Descriptor {
	t.Helper()
	ref, err := registry.ParseReference(name)
	require.NoError(t, err)
	desc, err := repository(t, resolver, name).Resolve(t.Context(), ref.ReferenceOrDefault())
	require.NoError(t, err)
	return desc
}

// sourceRegistry pushes a two platform nginx and a single platform busybox.
func sourceRegistry(t *testing.T) (*inmemory.Registry, ocispec.Descriptor) {
	t.Helper()
	reg := inmemory.New()
	index, _ := testimage.MultiArch(t, repository(t, reg, "src.io/library/nginx"), "1.25", linuxAMD64, linuxARM64)
	testimage.Single(t, repository(t, reg, "src.io/library/busybox"), "1.36", linuxAMD64)
	return reg, index
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func list(t *testing.T, path string, extra ...string) []archive.Entry {
	t.Helper()
	var out bytes.Buffer
	args := append([]string{"archive", "ls", "-f", path, "-o", "json", "--logoutput", "stderr"}, extra...)
	_, err := test.Hangar(t, test.WithArgs(args...), test.WithOutput(&out))
	require.NoError(t, err)
	var entries []archive.Entry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	return entries
}

func references(entries []archive.Entry) []string {
	refs := make([]string, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, e.Reference)
	}
	return refs
}

func TestVersion(t *testing.T) {
	isolate(t)
	r := require.New(t)
	var out bytes.Buffer
	_, err := test.Hangar(t, test.WithArgs("version", "--format", "json", "--logoutput", "stderr"), test.WithOutput(&out))
	r.NoError(err)

	var info version.Info
	r.NoError(json.Unmarshal(out.Bytes(), &info))
	r.NotEmpty(info.GoVersion)
	r.NotEmpty(info.Platform)
}

func TestConvertList(t *testing.T) {
	isolate(t)
	r := require.New(t)
	input := writeFile(t, "images.txt", "# mirrored\nnginx:1.25\nghcr.io/org/app:v2 linux/amd64\n")

	logs := test.NewJSONLogReader()
	_, err := test.Hangar(t, test.WithArgs("convert-list", "-i", input, "-d", "harbor.local"), test.WithOutput(logs))
	r.NoError(err)

	data, err := os.ReadFile(input + ".converted")
	r.NoError(err)
	r.Equal("# mirrored\nnginx harbor.local/nginx 1.25\nghcr.io/org/app harbor.local/org/app v2 linux/amd64\n", string(data))

	entries, err := logs.List()
	r.NoError(err)
	var converted *test.JSONLogEntry
	for _, e := range entries {
		if e.Msg == "image list converted" {
			converted = e
		}
	}
	r.NotNil(converted, logs.GetDiscarded())
	r.EqualValues(2, converted.Extras["converted"])
}

func TestSaveListLoad(t *testing.T) {
	isolate(t)
	r := require.New(t)
	src, index := sourceRegistry(t)
	images := writeFile(t, "images.txt", "src.io/library/nginx:1.25\nsrc.io/library/busybox:1.36\n")
	dir := t.TempDir()
	saved := filepath.Join(dir, "saved.tar.gz")

	_, err := test.Hangar(t, test.WithArgs("save", "-f", images, "-d", saved, "-j", "2", "-o", filepath.Join(dir, "save-failed.txt")),
		test.WithResolver(src))
	r.NoError(err)
	r.NoFileExists(filepath.Join(dir, "save-failed.txt"))

	entries := list(t, saved, "--images")
	r.Len(entries, 3)
	r.ElementsMatch([]string{"src.io/library/nginx:1.25", "src.io/library/nginx:1.25", "src.io/library/busybox:1.36"}, references(entries))

	_, err = test.Hangar(t, test.WithArgs("save", "validate", "-f", images, "-d", saved), test.WithResolver(src))
	r.NoError(err)

	dst := inmemory.New()
	_, err = test.Hangar(t, test.WithArgs("load", "-f", images, "-s", saved, "-d", "dst.io", "-o", filepath.Join(dir, "load-failed.txt")),
		test.WithResolver(dst))
	r.NoError(err)
	r.Equal(index.Digest, resolve(t, dst, "dst.io/library/nginx:1.25").Digest)
	resolve(t, dst, "dst.io/library/busybox:1.36")

	_, err = test.Hangar(t, test.WithArgs("load", "validate", "-f", images, "-s", saved, "-d", "dst.io"), test.WithResolver(dst))
	r.NoError(err)
}

func TestSave_DirectoryRejectsParts(t *testing.T) {
	isolate(t)
	r := require.New(t)
	src, _ := sourceRegistry(t)
	images := writeFile(t, "images.txt", "src.io/library/busybox:1.36\n")
	saved := filepath.Join(t.TempDir(), "saved")

	_, err := test.Hangar(t, test.WithArgs("save", "-f", images, "-d", saved, "--compress", "dir", "--part"), test.WithResolver(src))
	r.ErrorContains(err, "cannot be combined with directory archives")
	r.NoDirExists(saved)
}

func TestSave_PartialFailure(t *testing.T) {
	isolate(t)
	r := require.New(t)
	src, _ := sourceRegistry(t)
	images := writeFile(t, "images.txt", "src.io/library/missing:1\nsrc.io/library/busybox:1.36\n")
	dir := t.TempDir()
	saved := filepath.Join(dir, "saved.tar.gz")
	failed := filepath.Join(dir, "save-failed.txt")

	_, err := test.Hangar(t, test.WithArgs("save", "-f", images, "-d", saved, "-o", failed), test.WithResolver(src))
	r.ErrorIs(err, transfer.ErrPartialFailure)

	data, err := os.ReadFile(failed)
	r.NoError(err)
	r.Equal("src.io/library/missing:1\n", string(data))
	r.Equal([]string{"src.io/library/busybox:1.36"}, references(list(t, saved)))

	// the failed list resumes the save once the image shows up
	testimage.Single(t, repository(t, src, "src.io/library/missing"), "1", linuxARM64)
	_, err = test.Hangar(t, test.WithArgs("sync", "-f", failed, "-d", saved, "-o", filepath.Join(dir, "sync-failed.txt")),
		test.WithResolver(src))
	r.NoError(err)
	r.ElementsMatch([]string{"src.io/library/busybox:1.36", "src.io/library/missing:1"}, references(list(t, saved)))
}

func TestMirror(t *testing.T) {
	isolate(t)
	r := require.New(t)
	reg, index := sourceRegistry(t)
	images := writeFile(t, "images.txt", "src.io/library/nginx:1.25\nsrc.io/library/busybox:1.36\n")
	failed := filepath.Join(t.TempDir(), "mirror-failed.txt")

	_, err := test.Hangar(t, test.WithArgs("mirror", "-f", images, "-d", "dst.io", "--destination-project", "mirror", "-o", failed),
		test.WithResolver(reg))
	r.NoError(err)
	r.Equal(index.Digest, resolve(t, reg, "dst.io/mirror/nginx:1.25").Digest)
	resolve(t, reg, "dst.io/mirror/busybox:1.36")

	_, err = test.Hangar(t, test.WithArgs("mirror", "validate", "-f", images, "-d", "dst.io", "--destination-project", "mirror", "-o", failed),
		test.WithResolver(reg))
	r.NoError(err)

	_, err = test.Hangar(t, test.WithArgs("mirror", "validate", "-f", images, "-d", "other.io", "-o", failed),
		test.WithResolver(reg))
	r.ErrorIs(err, transfer.ErrPartialFailure)
	r.FileExists(failed)
}

func TestMirror_UnknownListEntry(t *testing.T) {
	isolate(t)
	r := require.New(t)
	images := writeFile(t, "images.txt", "a b c d e\n")
	_, err := test.Hangar(t, test.WithArgs("mirror", "-f", images, "-d", "dst.io"), test.WithResolver(inmemory.New()))
	r.Error(err)
}

func TestMergeManifest(t *testing.T) {
	isolate(t)
	r := require.New(t)
	reg := inmemory.New()
	repo := repository(t, reg, "src.io/library/app")
	testimage.Single(t, repo, "v1-amd64", linuxAMD64)
	testimage.Single(t, repo, "v1-arm64", linuxARM64)

	var out bytes.Buffer
	_, err := test.Hangar(t, test.WithArgs("merge-manifest", "src.io/library/app:v1", "src.io/library/app:v1-amd64", "src.io/library/app:v1-arm64",
		"--dry-run", "--logoutput", "stderr"), test.WithResolver(reg), test.WithOutput(&out))
	r.NoError(err)
	var index ocispec.Index
	r.NoError(json.Unmarshal(out.Bytes(), &index))
	r.Len(index.Manifests, 2)

	_, err = test.Hangar(t, test.WithArgs("merge-manifest", "src.io/library/app:v1", "src.io/library/app:v1-amd64", "src.io/library/app:v1-arm64"),
		test.WithResolver(reg))
	r.NoError(err)
	desc := resolve(t, reg, "src.io/library/app:v1")
	_, _, entries, err := manifestlist.Fetch(t.Context(), repo, desc)
	r.NoError(err)
	r.Len(entries, 2)
}

func TestArchiveInitMergeExport(t *testing.T) {
	isolate(t)
	r := require.New(t)
	src, _ := sourceRegistry(t)
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty")
	_, err := test.Hangar(t, test.WithArgs("archive", "init", "-d", empty))
	r.NoError(err)
	r.Empty(list(t, empty))
	_, err = test.Hangar(t, test.WithArgs("archive", "init", "-d", empty))
	r.Error(err)

	save := func(name, images string, extra ...string) string {
		path := filepath.Join(dir, name)
		args := append([]string{"save", "-f", writeFile(t, "images.txt", images), "-d", path, "-o", filepath.Join(dir, "save-failed.txt")}, extra...)
		_, err := test.Hangar(t, test.WithArgs(args...), test.WithResolver(src))
		r.NoError(err)
		return path
	}
	amd64 := save("amd64.tar.gz", "src.io/library/nginx:1.25\n", "--arch", "amd64")
	arm64 := save("arm64.tar.zst", "src.io/library/nginx:1.25\n", "--arch", "arm64")

	merged := filepath.Join(dir, "merged.tar.gz")
	_, err = test.Hangar(t, test.WithArgs("archive", "merge", "-f", amd64, "-f", arm64, "-o", merged))
	r.NoError(err)
	entries := list(t, merged)
	r.Len(entries, 2)
	var platforms []string
	for _, e := range entries {
		platforms = append(platforms, e.Platform())
	}
	r.ElementsMatch([]string{"linux/amd64", "linux/arm64"}, platforms)

	_, err = test.Hangar(t, test.WithArgs("archive", "merge", "-f", merged, "-o", merged, "-y"))
	r.Error(err)

	subset := filepath.Join(dir, "subset.tar.gz")
	failed := filepath.Join(dir, "export-failed.txt")
	exportList := writeFile(t, "export.txt", "src.io/library/nginx:1.25 linux/arm64\nsrc.io/library/redis:7\n")
	_, err = test.Hangar(t, test.WithArgs("archive", "export", "-f", exportList, "-s", merged, "-d", subset, "--failed", failed))
	r.ErrorIs(err, transfer.ErrPartialFailure)
	entries = list(t, subset)
	r.Len(entries, 1)
	r.Equal("linux/arm64", entries[0].Platform())
	data, err := os.ReadFile(failed)
	r.NoError(err)
	r.Equal("src.io/library/redis:7\n", string(data))

	none := writeFile(t, "none.txt", "src.io/library/redis:7\n")
	nothing := filepath.Join(dir, "nothing.tar.gz")
	_, err = test.Hangar(t, test.WithArgs("archive", "export", "-f", none, "-s", merged, "-d", nothing, "--failed", failed))
	r.ErrorIs(err, archive.ErrNoMatchingEntry)
	r.False(archive.Exists(nothing))
}

func TestStoreAndExportFile(t *testing.T) {
	isolate(t)
	r := require.New(t)
	dir := t.TempDir()
	saved := filepath.Join(dir, "files.tar.gz")
	chart := writeFile(t, "chart.tgz", "not really a chart")

	_, err := test.Hangar(t, test.WithArgs("archive", "store", "file", "-s", chart, "-d", saved, "--vendor", "example"))
	r.NoError(err)
	_, err = test.Hangar(t, test.WithArgs("archive", "store", "file", "-s", chart, "-d", saved))
	r.Error(err, "a stored file is only replaced with --overwrite")
	_, err = test.Hangar(t, test.WithArgs("archive", "store", "file", "-s", chart, "-d", saved, "--overwrite"))
	r.NoError(err)

	entries := list(t, saved)
	r.Len(entries, 1)
	r.Equal(archive.EntryKindObject, entries[0].Kind)
	r.Equal("chart.tgz", entries[0].Reference)
	r.Empty(list(t, saved, "--images"))

	out := filepath.Join(dir, "exported.tgz")
	_, err = test.Hangar(t, test.WithArgs("archive", "export", "file", "-n", "chart.tgz", "-s", saved, "-d", out))
	r.NoError(err)
	data, err := os.ReadFile(out)
	r.NoError(err)
	r.Equal("not really a chart", string(data))

	_, err = test.Hangar(t, test.WithArgs("archive", "export", "file", "-n", "chart.tgz", "-s", saved, "-d", out))
	r.Error(err)
	_, err = test.Hangar(t, test.WithArgs("archive", "export", "file", "-n", "missing", "-s", saved, "-d", filepath.Join(dir, "missing")))
	r.ErrorIs(err, archive.ErrObjectNotFound)
	r.NoFileExists(filepath.Join(dir, "missing"))
}

func TestCompressDecompress(t *testing.T) {
	isolate(t)
	r := require.New(t)
	dir := t.TempDir()

	t.Run("file", func(t *testing.T) {
		r := require.New(t)
		content := strings.Repeat("hangar ", 4096)
		plain := writeFile(t, "notes.txt", content)
		_, err := test.Hangar(t, test.WithArgs("compress", "-f", plain, "--format", "zstd"))
		r.NoError(err)
		r.FileExists(plain + ".zst")

		restored := filepath.Join(t.TempDir(), "restored.txt")
		_, err = test.Hangar(t, test.WithArgs("decompress", "-f", plain+".zst", "-d", restored))
		r.NoError(err)
		data, err := os.ReadFile(restored)
		r.NoError(err)
		r.Equal(content, string(data))
	})

	t.Run("archive", func(t *testing.T) {
		r := require.New(t)
		src, _ := sourceRegistry(t)
		images := writeFile(t, "images.txt", "src.io/library/nginx:1.25\n")
		saved := filepath.Join(dir, "saved")
		_, err := test.Hangar(t, test.WithArgs("save", "-f", images, "-d", saved, "--compress", "dir", "-o", filepath.Join(dir, "failed.txt")),
			test.WithResolver(src))
		r.NoError(err)
		want := list(t, saved)
		r.Len(want, 2)

		compressed := filepath.Join(dir, "saved.tar.gz")
		_, err = test.Hangar(t, test.WithArgs("compress", "-f", saved, "-d", compressed, "--part", "--part-size", "1M"))
		r.NoError(err)
		r.Equal(want, list(t, compressed))

		_, err = test.Hangar(t, test.WithArgs("decompress", "-f", compressed, "-d", saved))
		r.Error(err, "existing directories are only replaced with -y")
		_, err = test.Hangar(t, test.WithArgs("decompress", "-f", compressed, "-d", saved, "-y"))
		r.NoError(err)
		r.Equal(want, list(t, saved))
	})
	r.DirExists(dir)
}
