// Package inmemory provides a blob that buffers a reader once and serves repeated reads from memory.
package inmemory

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/opencontainers/go-digest"

	"ocm.software/open-component-model/hangar/bindings/go/blob"
)

// New wraps r into a Blob. r is read completely on first access, after which size and
// digest are known. A digest given with WithDigest is verified against the loaded data.
func New(r io.Reader, opts ...MemoryBlobOption) *Blob {
	b := &Blob{
		source:    r,
		mediaType: "application/octet-stream",
		size:      blob.SizeUnknown,
	}
	for _, opt := range opts {
		opt.ApplyToMemoryBlob(b)
	}
	return b
}

// NewFromBytes returns an already loaded Blob for data.
func NewFromBytes(data []byte, opts ...MemoryBlobOption) *Blob {
	return New(bytes.NewReader(data), opts...)
}

// Blob is a read-only blob that reads from an io.Reader once via Load and keeps the data in memory.
type Blob struct {
	mu   sync.RWMutex
	data []byte

	size      int64
	digest    digest.Digest
	mediaType string

	source io.Reader
	loaded bool
	err    error
}

var (
	_ blob.ReadOnlyBlob          = (*Blob)(nil)
	_ blob.SizeAware             = (*Blob)(nil)
	_ blob.DigestAware           = (*Blob)(nil)
	_ blob.DigestPrecalculatable = (*Blob)(nil)
	_ blob.MediaTypeAware        = (*Blob)(nil)
	_ blob.MediaTypeOverrideable = (*Blob)(nil)
)

func (b *Blob) ReadCloser() (io.ReadCloser, error) {
	if err := b.Load(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Load reads the source once and records size and digest.
// Subsequent calls return the result of the first load.
func (b *Blob) Load() (err error) {
	b.mu.RLock()
	if b.loaded {
		b.mu.RUnlock()
		return b.err
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return b.err
	}
	defer func() {
		b.loaded = true
		b.err = err
	}()

	var data bytes.Buffer
	digester := digest.Canonical.Digester()
	source := io.TeeReader(b.source, digester.Hash())

	if b.size > blob.SizeUnknown {
		_, err = io.CopyN(&data, source, b.size)
	} else {
		_, err = io.Copy(&data, source)
		b.size = int64(data.Len())
	}
	if err != nil {
		return err
	}

	if loaded := digester.Digest(); b.digest == "" {
		b.digest = loaded
	} else if b.digest != loaded {
		return fmt.Errorf("data from pre-set digest %q differed from loaded digest %q", b.digest, loaded)
	}

	b.data = data.Bytes()
	return nil
}

func (b *Blob) Size() int64 {
	if b.Load() != nil {
		return blob.SizeUnknown
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Blob) SetPrecalculatedSize(size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.size = size
}

func (b *Blob) Digest() (string, bool) {
	if b.Load() != nil {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.digest.String(), true
}

func (b *Blob) HasPrecalculatedDigest() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.digest != ""
}

func (b *Blob) SetPrecalculatedDigest(dig string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.digest = digest.Digest(dig)
}

func (b *Blob) MediaType() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mediaType, true
}

func (b *Blob) SetMediaType(mediaType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mediaType = mediaType
}
