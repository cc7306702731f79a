package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"ocm.software/open-component-model/hangar/bindings/go/blob"
)

// Blob is a read-only blob stored as a file in an fs.FS.
// Size is taken from the file system, the digest is computed once on first use
// unless it was set in advance.
type Blob struct {
	fileSystem fs.FS
	path       string

	mediaType atomic.Pointer[string]

	mu     sync.Mutex
	digest string
}

var (
	_ blob.ReadOnlyBlob          = (*Blob)(nil)
	_ blob.SizeAware             = (*Blob)(nil)
	_ blob.DigestAware           = (*Blob)(nil)
	_ blob.DigestPrecalculatable = (*Blob)(nil)
	_ blob.MediaTypeAware        = (*Blob)(nil)
	_ blob.MediaTypeOverrideable = (*Blob)(nil)
)

// NewFileBlob creates a new Blob for path within fsys.
func NewFileBlob(fsys fs.FS, path string) *Blob {
	return &Blob{
		path:       path,
		fileSystem: fsys,
	}
}

func (f *Blob) Path() string {
	return f.path
}

func (f *Blob) ReadCloser() (io.ReadCloser, error) {
	file, err := f.fileSystem.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("unable to open file %q: %w", f.path, err)
	}
	return file, nil
}

func (f *Blob) Size() int64 {
	fi, err := fs.Stat(f.fileSystem, f.path)
	if err != nil {
		return blob.SizeUnknown
	}
	return fi.Size()
}

func (f *Blob) Digest() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.digest != "" {
		return f.digest, true
	}
	dig, err := f.computeDigest()
	if err != nil {
		return "", false
	}
	f.digest = dig.String()
	return f.digest, true
}

func (f *Blob) computeDigest() (_ digest.Digest, err error) {
	data, err := f.ReadCloser()
	if err != nil {
		return "", err
	}
	defer func() {
		err = errors.Join(err, data.Close())
	}()
	return digest.FromReader(data)
}

func (f *Blob) HasPrecalculatedDigest() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.digest != ""
}

func (f *Blob) SetPrecalculatedDigest(dig string) {
	if dig == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digest = dig
}

// MediaType returns the media type of the blob if known.
func (f *Blob) MediaType() (string, bool) {
	mt := f.mediaType.Load()
	if mt == nil {
		return "", false
	}
	return *mt, true
}

// SetMediaType overrides the media type of the blob.
func (f *Blob) SetMediaType(mediaType string) {
	f.mediaType.Store(&mediaType)
}
