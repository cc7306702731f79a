package filesystem_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/bindings/go/blob/filesystem"
)

func TestNewFS(t *testing.T) {
	r := require.New(t)
	tempDir := t.TempDir()

	fsys, err := filesystem.NewFS(tempDir, os.O_RDWR)
	r.NoError(err)
	r.Equal(tempDir, fsys.Base())
	r.False(fsys.ReadOnly())
}

func TestNewFS_NonExistentPath(t *testing.T) {
	r := require.New(t)
	tempDir := filepath.Join(t.TempDir(), "nonexistent")

	_, err := filesystem.NewFS(tempDir, os.O_RDWR)
	r.ErrorIs(err, os.ErrNotExist)

	fsys, err := filesystem.NewFS(tempDir, os.O_RDWR|os.O_CREATE)
	r.NoError(err)
	r.DirExists(fsys.Base())
}

func TestFileSystemOperations(t *testing.T) {
	r := require.New(t)
	fsys, err := filesystem.NewFS(t.TempDir(), os.O_RDWR)
	r.NoError(err)

	r.NoError(fsys.MkdirAll("testdir", 0o755))

	file, err := fsys.OpenFile("testdir/testfile.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	r.NoError(err)
	_, err = file.(io.Writer).Write([]byte("data"))
	r.NoError(err)
	r.NoError(file.Close())

	entries, err := fsys.ReadDir("testdir")
	r.NoError(err)
	r.Len(entries, 1)
	r.Equal("testfile.txt", entries[0].Name())

	r.NoError(fsys.Rename("testdir/testfile.txt", "testdir/renamed.txt"))
	info, err := fsys.Stat("testdir/renamed.txt")
	r.NoError(err)
	r.EqualValues(4, info.Size())

	r.NoError(fsys.Remove("testdir/renamed.txt"))
	r.NoError(fsys.RemoveAll("testdir"))
}

func TestFileSystem_ForceReadOnly(t *testing.T) {
	r := require.New(t)
	fsys, err := filesystem.NewFS(t.TempDir(), os.O_RDWR)
	r.NoError(err)

	fsys.ForceReadOnly()
	r.True(fsys.ReadOnly())
	r.ErrorIs(fsys.MkdirAll("dir", 0o755), filesystem.ErrReadOnly)
	_, err = fsys.OpenFile("file", os.O_CREATE|os.O_WRONLY, 0o644)
	r.ErrorIs(err, filesystem.ErrReadOnly)
}

func TestBlob(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "blob")
	r.NoError(os.WriteFile(path, []byte("hello world!"), 0o644))

	b, err := filesystem.GetBlobFromOSPath(path)
	r.NoError(err)
	r.EqualValues(12, b.Size())

	dig, known := b.Digest()
	r.True(known)
	r.Equal(digest.FromString("hello world!").String(), dig)

	_, known = b.MediaType()
	r.False(known)
	b.SetMediaType("text/plain")
	mt, known := b.MediaType()
	r.True(known)
	r.Equal("text/plain", mt)

	target := filepath.Join(t.TempDir(), "nested", "copy")
	r.NoError(filesystem.CopyBlobToOSPath(b, target))
	data, err := os.ReadFile(target)
	r.NoError(err)
	r.Equal("hello world!", string(data))
}

func TestGetBlobFromOSPath_Directory(t *testing.T) {
	_, err := filesystem.GetBlobFromOSPath(t.TempDir())
	require.Error(t, err)
}
