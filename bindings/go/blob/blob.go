package blob

import (
	"io"
)

// ReadOnlyBlob is a Binary Large Object that can be read repeatedly.
// Every call to ReadCloser returns a new reader that starts from the beginning of the blob.
// It is the caller's responsibility to close the reader.
type ReadOnlyBlob interface {
	ReadCloser() (io.ReadCloser, error)
}

// SizeUnknown is a constant that represents an unknown size of a blob.
const SizeUnknown int64 = -1

// SizeAware is implemented by blobs that know their size in bytes.
// If the size is unknown, Size MUST return SizeUnknown.
type SizeAware interface {
	Size() (size int64)
}

// DigestAware is implemented by blobs that know (or can compute) their digest.
type DigestAware interface {
	Digest() (digest string, known bool)
}

// DigestPrecalculatable is implemented by blobs whose digest can be set ahead of a read,
// e.g. because the digest was recorded in an index.
type DigestPrecalculatable interface {
	HasPrecalculatedDigest() bool
	SetPrecalculatedDigest(digest string)
}

// MediaTypeAware is implemented by blobs that are associated with a media type.
type MediaTypeAware interface {
	MediaType() (mediaType string, known bool)
}

// MediaTypeOverrideable is implemented by blobs whose media type can be replaced.
type MediaTypeOverrideable interface {
	SetMediaType(mediaType string)
}
