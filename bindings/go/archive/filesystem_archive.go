package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/blob"
	"ocm.software/open-component-model/hangar/bindings/go/blob/filesystem"
)

const (
	BlobsDirectoryName = "blobs"
)

// FileSystemArchive is an Archive implementation that uses any fs.FS as the underlying storage.
// It is used to read and write archives from a directory structure, accessing
//   - the index file at v1.IndexFileName
//   - the blobs at BlobsDirectoryName
//
// Files are written to a temporary name first and renamed once complete, so an interrupted
// write never leaves a partial blob or index behind.
type FileSystemArchive struct {
	fs        fs.FS
	statFS    fs.StatFS
	readDirFS fs.ReadDirFS
	mkdirFS   filesystem.MkdirAllFS
	ofFS      filesystem.OpenFileFS
	remFS     filesystem.RemoveFS
	renameFS  filesystem.RenameFS

	format FileFormat

	indexMu sync.Mutex
	index   v1.Index

	inflight singleflight.Group

	closeMu sync.Mutex
	closers []func() error
}

var _ Archive = (*FileSystemArchive)(nil)

// tmpSeq makes temporary file names unique within the process.
var tmpSeq atomic.Uint64

// NewFileSystemArchive opens an archive with the specified filesystem as its root.
func NewFileSystemArchive(fsys fs.FS) *FileSystemArchive {
	base := &FileSystemArchive{
		fs:     fsys,
		format: FormatDirectory,
	}
	if statFS, ok := fsys.(fs.StatFS); ok {
		base.statFS = statFS
	}
	if mkdirFS, ok := fsys.(filesystem.MkdirAllFS); ok {
		base.mkdirFS = mkdirFS
	}
	if readDirFS, ok := fsys.(fs.ReadDirFS); ok {
		base.readDirFS = readDirFS
	}
	if ofFS, ok := fsys.(filesystem.OpenFileFS); ok {
		base.ofFS = ofFS
	}
	if remFS, ok := fsys.(filesystem.RemoveFS); ok {
		base.remFS = remFS
	}
	if renameFS, ok := fsys.(filesystem.RenameFS); ok {
		base.renameFS = renameFS
	}
	return base
}

// OpenFromOSPath opens a directory archive at the specified path with the specified flags.
// Supported flags are O_RDONLY, O_RDWR, and O_CREATE, other flags can lead to undefined behavior.
func OpenFromOSPath(path string, flag int) (*FileSystemArchive, error) {
	fileSystem, err := filesystem.NewFS(path, flag)
	if err != nil {
		return nil, fmt.Errorf("unable to setup file system: %w", err)
	}
	a := NewFileSystemArchive(fileSystem)
	a.onClose(fileSystem.Close)
	return a, nil
}

// FS returns the underlying file system of the archive.
// Note that write operations to the file system can affect the integrity of the archive.
func (c *FileSystemArchive) FS() fs.FS {
	return c.fs
}

// Format returns the format the archive was opened from.
func (c *FileSystemArchive) Format() FileFormat {
	return c.format
}

func (c *FileSystemArchive) onClose(f func() error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.closers = append(c.closers, f)
}

// Close releases the file system and removes temporary extraction directories.
// It is safe to call Close multiple times.
func (c *FileSystemArchive) Close() error {
	c.closeMu.Lock()
	closers := c.closers
	c.closers = nil
	c.closeMu.Unlock()

	var errs []error
	for _, closer := range slices.Backward(closers) {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

// GetIndex returns the v1.IndexFileName parsed as v1.Index of the archive.
// If the archive is empty, an empty index is returned so it can be set with SetIndex.
func (c *FileSystemArchive) GetIndex(_ context.Context) (index v1.Index, err error) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	if c.index != nil {
		return c.index, nil
	}

	if c.statFS == nil {
		return nil, fmt.Errorf("index cannot be retrieved from a filesystem that does not support stat: %T", c.fs)
	}

	fi, err := c.statFS.Stat(v1.IndexFileName)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && fi.Size() == 0) {
		c.index = v1.NewIndex()
		return c.index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to stat %s: %w", v1.IndexFileName, err)
	}

	var indexFile fs.File
	if indexFile, err = c.fs.Open(v1.IndexFileName); err != nil {
		return nil, fmt.Errorf("unable to open archive index: %w", err)
	}
	defer func() {
		err = errors.Join(err, indexFile.Close())
	}()

	if index, err = v1.DecodeIndex(indexFile); err != nil {
		return nil, fmt.Errorf("unable to decode archive index: %w", err)
	}
	c.index = index

	return index, nil
}

// SetIndex sets the v1.IndexFileName of the archive to the given index.
func (c *FileSystemArchive) SetIndex(_ context.Context, index v1.Index) (err error) {
	index.Touch(time.Now())
	data, err := v1.Encode(index)
	if err != nil {
		return fmt.Errorf("unable to encode archive index: %w", err)
	}

	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	if err := c.writeFile(v1.IndexFileName, bytes.NewReader(data), int64(len(data)), nil); err != nil {
		return err
	}
	c.index = index
	return nil
}

// writeFile writes the given raw data to the given name in the archive.
// If the directory does not exist, it will be created.
// The data is written to a temporary file that replaces name only after check passed.
func (c *FileSystemArchive) writeFile(name string, raw io.Reader, size int64, check func() error) (err error) {
	if c.ofFS == nil || c.renameFS == nil {
		return fmt.Errorf("filesystem does not support writing files: %T", c.fs)
	}
	dir := filepath.Dir(name)
	if c.mkdirFS != nil {
		if err := c.mkdirFS.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("unable to create directory: %w", err)
		}
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d-%d.tmp", filepath.Base(name), os.Getpid(), tmpSeq.Add(1)))
	var file fs.File
	if file, err = c.ofFS.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err != nil {
		return fmt.Errorf("unable to open %s for writing: %w", name, err)
	}
	defer func() {
		if err != nil && c.remFS != nil {
			if rerr := c.remFS.Remove(tmp); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
				err = errors.Join(err, rerr)
			}
		}
	}()

	if err := copyToFile(file, raw, size); err != nil {
		return errors.Join(fmt.Errorf("unable to write %s: %w", name, err), file.Close())
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("unable to close %s: %w", name, err)
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	if err := c.renameFS.Rename(tmp, name); err != nil {
		return fmt.Errorf("unable to move %s into place: %w", name, err)
	}
	return nil
}

func copyToFile(file fs.File, raw io.Reader, size int64) error {
	writeable, ok := file.(io.Writer)
	if !ok {
		return fmt.Errorf("file is read only and cannot be saved")
	}
	if size <= blob.SizeUnknown {
		buf := ioBufPool.Get().(*[]byte)
		defer ioBufPool.Put(buf)
		_, err := io.CopyBuffer(writeable, raw, *buf)
		return err
	}
	_, err := io.CopyN(writeable, raw, size)
	return err
}

// ioBufPool is a pool of byte buffers that can be reused for copying content
// between i/o relevant data, such as files.
var ioBufPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, filesystem.DefaultFileIOBufferSize)
		return &buffer
	},
}

// DeleteBlob deletes the blob with the given digest from the archive by removing the file from BlobsDirectoryName.
func (c *FileSystemArchive) DeleteBlob(_ context.Context, digest string) (err error) {
	if c.remFS == nil {
		return fmt.Errorf("filesystem does not support removing files: %T", c.fs)
	}

	file, err := ToBlobFileName(digest)
	if err != nil {
		return err
	}
	if err = c.remFS.Remove(filepath.Join(BlobsDirectoryName, file)); err != nil {
		return fmt.Errorf("unable to delete blob: %w", err)
	}

	return nil
}

// GetBlob returns the blob with the given digest from the archive by reading the file from BlobsDirectoryName.
// If the blob is not present, the returned error wraps fs.ErrNotExist.
func (c *FileSystemArchive) GetBlob(_ context.Context, digest string) (blob.ReadOnlyBlob, error) {
	if c.statFS == nil {
		return nil, fmt.Errorf("filesystem does not support stat: %T", c.fs)
	}

	file, err := ToBlobFileName(digest)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(BlobsDirectoryName, file)
	if _, err := c.statFS.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s not found: %w", digest, err)
		}
		return nil, fmt.Errorf("unable to stat blob: %w", err)
	}

	b := filesystem.NewFileBlob(c.fs, path)
	b.SetPrecalculatedDigest(digest)
	return b, nil
}

func (c *FileSystemArchive) HasBlob(_ context.Context, digest string) (bool, error) {
	if c.statFS == nil {
		return false, fmt.Errorf("filesystem does not support stat: %T", c.fs)
	}
	file, err := ToBlobFileName(digest)
	if err != nil {
		return false, err
	}
	_, err = c.statFS.Stat(filepath.Join(BlobsDirectoryName, file))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("unable to stat blob: %w", err)
	}
}

// ListBlobs returns a list of all blobs in the archive by listing the files in BlobsDirectoryName.
// Temporary files of unfinished writes are skipped.
func (c *FileSystemArchive) ListBlobs(_ context.Context) (digests []string, err error) {
	if c.readDirFS == nil {
		return nil, fmt.Errorf("filesystem does not support reading directories: %T", c.fs)
	}

	dir, err := c.readDirFS.ReadDir(BlobsDirectoryName)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to list blobs: %w", err)
	}

	digests = make([]string, 0, len(dir))
	for _, entry := range dir {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			digests = append(digests, ToDigest(entry.Name()))
		}
	}

	return digests, nil
}

// SaveBlob stores b under its digest. The content is verified against the digest before it becomes visible.
// Concurrent saves of the same digest are collapsed into one write.
func (c *FileSystemArchive) SaveBlob(ctx context.Context, b blob.ReadOnlyBlob) (err error) {
	digestable, ok := b.(blob.DigestAware)
	if !ok {
		return errors.New("blob does not have a digest that can be used to save it")
	}
	raw, known := digestable.Digest()
	if !known {
		return errors.New("blob does not have a digest that can be used to save it")
	}
	dig, err := digest.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid blob digest %q: %w", raw, err)
	}

	if exists, err := c.HasBlob(ctx, dig.String()); err != nil {
		return err
	} else if exists {
		return nil
	}

	_, err, _ = c.inflight.Do(dig.String(), func() (any, error) {
		return nil, c.saveBlob(ctx, dig, b)
	})
	return err
}

func (c *FileSystemArchive) saveBlob(ctx context.Context, dig digest.Digest, b blob.ReadOnlyBlob) (err error) {
	size := blob.SizeUnknown
	if sizeable, ok := b.(blob.SizeAware); ok {
		size = sizeable.Size()
	}

	data, err := b.ReadCloser()
	if err != nil {
		return fmt.Errorf("unable to read blob: %w", err)
	}
	defer func() {
		err = errors.Join(err, data.Close())
	}()

	file, err := ToBlobFileName(dig.String())
	if err != nil {
		return err
	}

	verifier := dig.Verifier()
	return c.writeFile(filepath.Join(BlobsDirectoryName, file), io.TeeReader(withContext(ctx, data), verifier), size, func() error {
		if !verifier.Verified() {
			return fmt.Errorf("%w: content does not match %s", blob.ErrDigestMismatch, dig)
		}
		return nil
	})
}

// ToBlobFileName converts a digest to a blob file name by replacing the ":" with ".", which is the
// default separator for blobs in the archive under BlobsDirectoryName.
func ToBlobFileName(dig string) (string, error) {
	if _, err := digest.Parse(dig); err != nil {
		return "", fmt.Errorf("invalid digest %q could not be converted to blob file name: %w", dig, err)
	}
	return strings.ReplaceAll(dig, ":", "."), nil
}

// ToDigest converts a blob file name to a digest by replacing the "." with ":", which is the
// default separator for digests in standard notation.
func ToDigest(blobFileName string) string {
	return strings.ReplaceAll(blobFileName, ".", ":")
}
