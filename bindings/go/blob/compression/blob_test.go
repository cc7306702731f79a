package compression_test

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/bindings/go/blob/compression"
	"ocm.software/open-component-model/hangar/bindings/go/blob/inmemory"
)

func randomData(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	data := append(bytes.Repeat([]byte("hangar"), 1<<12), randomData(t, 1<<16)...)

	for _, method := range []compression.Method{compression.MethodNone, compression.MethodGzip, compression.MethodZstd} {
		t.Run(method.String(), func(t *testing.T) {
			r := require.New(t)
			var compressed bytes.Buffer
			n, err := compression.Encode(&compressed, bytes.NewReader(data), method)
			r.NoError(err)
			r.EqualValues(len(data), n)

			detected, err := compression.Detect(bufio.NewReader(bytes.NewReader(compressed.Bytes())))
			r.NoError(err)
			if method == compression.MethodNone {
				r.Equal(compression.MethodNone, detected)
			} else {
				r.Equal(method, detected)
			}

			var decompressed bytes.Buffer
			_, err = compression.Decode(&decompressed, &compressed, method)
			r.NoError(err)
			r.Equal(data, decompressed.Bytes())
		})
	}
}

func TestNewDetectingReader(t *testing.T) {
	r := require.New(t)
	var compressed bytes.Buffer
	_, err := compression.Encode(&compressed, bytes.NewReader([]byte("zstd content")), compression.MethodZstd)
	r.NoError(err)

	rc, method, err := compression.NewDetectingReader(&compressed)
	r.NoError(err)
	r.Equal(compression.MethodZstd, method)
	data, err := io.ReadAll(rc)
	r.NoError(err)
	r.NoError(rc.Close())
	r.Equal("zstd content", string(data))
}

func TestParseMethod(t *testing.T) {
	r := require.New(t)
	m, err := compression.ParseMethod("zstd")
	r.NoError(err)
	r.Equal(compression.MethodZstd, m)
	m, err = compression.ParseMethod("")
	r.NoError(err)
	r.Equal(compression.MethodNone, m)
	_, err = compression.ParseMethod("lz4")
	r.ErrorIs(err, compression.ErrUnsupportedMethod)
}

func TestCompressedBlob(t *testing.T) {
	for _, tc := range []struct {
		method    compression.Method
		mediaType string
	}{
		{compression.MethodGzip, "application/json+gzip"},
		{compression.MethodZstd, "application/json+zstd"},
	} {
		t.Run(tc.method.String(), func(t *testing.T) {
			r := require.New(t)
			testData := []byte("Hello, this is a test string for compression!")
			base := inmemory.NewFromBytes(testData, inmemory.WithMediaType("application/json"))

			compressed := compression.Compress(base, tc.method)
			mediaType, known := compressed.MediaType()
			r.True(known)
			r.Equal(tc.mediaType, mediaType)

			rc, err := compressed.ReadCloser()
			r.NoError(err)
			raw, err := io.ReadAll(rc)
			r.NoError(err)
			r.NoError(rc.Close())
			r.NotEqual(testData, raw)

			decompressed, err := compression.Decompress(inmemory.NewFromBytes(raw, inmemory.WithMediaType(mediaType)))
			r.NoError(err)
			mediaType, _ = decompressed.(interface{ MediaType() (string, bool) }).MediaType()
			r.Equal("application/json", mediaType)

			rc, err = decompressed.ReadCloser()
			r.NoError(err)
			plain, err := io.ReadAll(rc)
			r.NoError(err)
			r.NoError(rc.Close())
			r.Equal(testData, plain)
		})
	}
}

type failingBlob struct{}

func (failingBlob) ReadCloser() (io.ReadCloser, error) {
	return nil, errors.New("read failure")
}

func TestCompressedBlob_BaseError(t *testing.T) {
	_, err := compression.Compress(failingBlob{}, compression.MethodGzip).ReadCloser()
	require.ErrorContains(t, err, "read failure")
}

func TestDecompress_Uncompressed(t *testing.T) {
	r := require.New(t)
	base := inmemory.NewFromBytes([]byte("plain"), inmemory.WithMediaType("text/plain"))
	b, err := compression.Decompress(base)
	r.NoError(err)
	r.Same(base, b)
}
