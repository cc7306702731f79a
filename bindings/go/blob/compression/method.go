package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

var ErrUnsupportedMethod = errors.New("unsupported compression method")

// Method represents the type of compression algorithm used for blob compression.
type Method string

const (
	// MethodNone passes data through unchanged.
	MethodNone Method = "none"
	// MethodGzip represents GZIP compression.
	MethodGzip Method = "gzip"
	// MethodZstd represents Zstandard compression.
	MethodZstd Method = "zstd"

	// MethodCanonical is the default compression method used by the package.
	MethodCanonical = MethodGzip
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ParseMethod converts s into a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodNone, MethodGzip, MethodZstd:
		return m, nil
	case "":
		return MethodNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

func (m Method) String() string {
	return string(m)
}

// NewWriter returns a writer that compresses everything written to it with method into w.
// Closing the returned writer flushes the compressor but does not close w.
func NewWriter(w io.Writer, method Method) (io.WriteCloser, error) {
	switch method {
	case MethodNone:
		return nopWriteCloser{w}, nil
	case MethodGzip:
		return gzip.NewWriter(w), nil
	case MethodZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("unable to create zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// NewReader returns a reader that decompresses r with method.
// Closing the returned reader releases the decompressor but does not close r.
func NewReader(r io.Reader, method Method) (io.ReadCloser, error) {
	switch method {
	case MethodNone:
		return io.NopCloser(r), nil
	case MethodGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("unable to create gzip reader: %w", err)
		}
		return gz, nil
	case MethodZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("unable to create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// Detect peeks at the first bytes of r to determine the compression method.
// Data that carries neither a gzip nor a zstd header is reported as MethodNone.
func Detect(r *bufio.Reader) (Method, error) {
	head, err := r.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("unable to read compression header: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return MethodZstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		return MethodGzip, nil
	default:
		return MethodNone, nil
	}
}

// NewDetectingReader decompresses r with whatever method Detect finds.
func NewDetectingReader(r io.Reader) (io.ReadCloser, Method, error) {
	buffered := bufio.NewReader(r)
	method, err := Detect(buffered)
	if err != nil {
		return nil, "", err
	}
	rc, err := NewReader(buffered, method)
	if err != nil {
		return nil, "", err
	}
	return rc, method, nil
}

// Encode compresses src into dst with method and returns the number of uncompressed bytes read.
func Encode(dst io.Writer, src io.Reader, method Method) (n int64, err error) {
	w, err := NewWriter(dst, method)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, w.Close())
	}()
	return io.Copy(w, src)
}

// Decode decompresses src into dst with method and returns the number of decompressed bytes written.
func Decode(dst io.Writer, src io.Reader, method Method) (n int64, err error) {
	r, err := NewReader(src, method)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return io.Copy(dst, r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
