// Package compression provides the codecs used for archives and compressed blobs.
// It supports gzip and zstd and transparently decompresses blobs based on their media type.
package compression

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"ocm.software/open-component-model/hangar/bindings/go/blob"
)

const (
	MediaTypeGzip       = "application/gzip"
	MediaTypeGzipSuffix = "+gzip"
	MediaTypeZstd       = "application/zstd"
	MediaTypeZstdSuffix = "+zstd"

	mediaTypeOctetStream = "application/octet-stream"
)

// Compress creates a compressed Blob from b with method.
func Compress(b blob.ReadOnlyBlob, method Method) *Blob {
	return &Blob{ReadOnlyBlob: b, CompressionMethod: method}
}

// Blob is a compressed view on a base ReadOnlyBlob.
type Blob struct {
	blob.ReadOnlyBlob
	CompressionMethod Method
}

// MediaType returns the media type of the base blob with the suffix of the compression method.
func (b *Blob) MediaType() (mediaType string, known bool) {
	switch b.CompressionMethod {
	case MethodZstd:
		return getMediaType(b.ReadOnlyBlob, MediaTypeZstdSuffix, MediaTypeZstd), true
	case MethodNone:
		if mt, ok := b.ReadOnlyBlob.(blob.MediaTypeAware); ok {
			return mt.MediaType()
		}
		return mediaTypeOctetStream, true
	default:
		return getMediaType(b.ReadOnlyBlob, MediaTypeGzipSuffix, MediaTypeGzip), true
	}
}

func getMediaType(b blob.ReadOnlyBlob, ext, def string) string {
	var mediaType string
	if mediaTypeAware, ok := b.(blob.MediaTypeAware); ok {
		if mediaType, ok = mediaTypeAware.MediaType(); ok && mediaType != "" && mediaType != mediaTypeOctetStream {
			mediaType += ext
		} else {
			mediaType = ""
		}
	}
	if mediaType == "" {
		mediaType = def
	}
	return mediaType
}

// ReadCloser returns a reader of the compressed data.
// Compression happens on a separate goroutine while the reader is consumed.
func (b *Blob) ReadCloser() (io.ReadCloser, error) {
	base, err := b.ReadOnlyBlob.ReadCloser()
	if err != nil {
		return nil, err
	}

	reader, writer := io.Pipe()

	go func() {
		_, err := Encode(writer, base, b.CompressionMethod)
		writer.CloseWithError(errors.Join(err, base.Close()))
	}()

	return reader, nil
}

// Decompress returns a decompressed view of b if its media type marks it as compressed.
// Blobs without a known compressed media type are returned unchanged.
func Decompress(b blob.ReadOnlyBlob) (blob.ReadOnlyBlob, error) {
	mediaTypeAware, ok := b.(blob.MediaTypeAware)
	if !ok {
		return b, nil
	}
	mediaType, ok := mediaTypeAware.MediaType()
	if !ok {
		return b, nil
	}

	var method Method
	switch {
	case mediaType == MediaTypeGzip:
		method, mediaType = MethodGzip, mediaTypeOctetStream
	case strings.HasSuffix(mediaType, MediaTypeGzipSuffix):
		method, mediaType = MethodGzip, strings.TrimSuffix(mediaType, MediaTypeGzipSuffix)
	case mediaType == MediaTypeZstd:
		method, mediaType = MethodZstd, mediaTypeOctetStream
	case strings.HasSuffix(mediaType, MediaTypeZstdSuffix):
		method, mediaType = MethodZstd, strings.TrimSuffix(mediaType, MediaTypeZstdSuffix)
	default:
		return b, nil
	}

	return &DecompressedBlob{
		ReadOnlyBlob:      b,
		compressionMethod: method,
		mediaType:         mediaType,
	}, nil
}

// DecompressedBlob is the decompressed view of a compressed blob.
type DecompressedBlob struct {
	blob.ReadOnlyBlob
	compressionMethod Method
	mediaType         string
}

func (d *DecompressedBlob) MediaType() (string, bool) {
	return d.mediaType, true
}

func (d *DecompressedBlob) ReadCloser() (io.ReadCloser, error) {
	data, err := d.ReadOnlyBlob.ReadCloser()
	if err != nil {
		return nil, fmt.Errorf("error reading compressed blob: %w", err)
	}

	decompressed, err := NewReader(data, d.compressionMethod)
	if err != nil {
		return nil, errors.Join(err, data.Close())
	}

	return struct {
		io.Reader
		io.Closer
	}{
		Reader: decompressed,
		Closer: closerFunc(func() error {
			return errors.Join(decompressed.Close(), data.Close())
		}),
	}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
