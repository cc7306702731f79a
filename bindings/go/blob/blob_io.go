package blob

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// ErrDigestMismatch is returned when the data read from a blob does not match its advertised digest.
var ErrDigestMismatch = errors.New("blob digest verification failed")

// Copy copies the contents of src to dst.
//
// If src is SizeAware, exactly Size bytes are copied without intermediate buffering.
// If src is DigestAware with a known digest, the data is verified while it is copied
// and ErrDigestMismatch is returned on a mismatch.
// It returns the number of bytes written.
func Copy(dst io.Writer, src ReadOnlyBlob) (n int64, err error) {
	size := SizeUnknown
	if srcSizeAware, ok := src.(SizeAware); ok {
		size = srcSizeAware.Size()
	}

	data, err := src.ReadCloser()
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, data.Close())
	}()

	reader := io.Reader(data)

	if digestAware, ok := src.(DigestAware); ok {
		if digRaw, known := digestAware.Digest(); known {
			var dig digest.Digest
			if dig, err = digest.Parse(digRaw); err != nil {
				return 0, err
			}
			verifier := dig.Verifier()
			reader = io.TeeReader(reader, verifier)
			defer func() {
				if err == nil && !verifier.Verified() {
					err = fmt.Errorf("%w: expected %s", ErrDigestMismatch, dig)
				}
			}()
		}
	}

	if size > SizeUnknown {
		n, err = io.CopyN(dst, reader, size)
	} else {
		n, err = io.Copy(dst, reader)
	}

	return n, err
}
