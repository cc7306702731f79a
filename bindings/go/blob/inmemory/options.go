package inmemory

type MemoryBlobOption interface {
	ApplyToMemoryBlob(*Blob)
}

// WithMediaType sets the media type of the Blob.
type WithMediaType string

func (w WithMediaType) ApplyToMemoryBlob(b *Blob) {
	b.SetMediaType(string(w))
}

// WithSize limits the load of the Blob to the given number of bytes.
type WithSize int64

func (w WithSize) ApplyToMemoryBlob(b *Blob) {
	b.SetPrecalculatedSize(int64(w))
}

// WithDigest sets the expected digest of the Blob, which is verified on load.
type WithDigest string

func (w WithDigest) ApplyToMemoryBlob(b *Blob) {
	b.SetPrecalculatedDigest(string(w))
}
