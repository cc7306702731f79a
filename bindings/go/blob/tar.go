package blob

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultArchiveBlobBufferSize is the default buffer size used to archive blobs.
// It is slightly larger than the default buffer size used by io.Copy as most blobs
// encountered in practice are larger than the default buffer size.
const DefaultArchiveBlobBufferSize = 128 * 1024 // 128 KiB

// ArchiveBlob writes b as a regular file entry called name into the tar writer.
// The size must be known upfront because it is part of the tar header.
// The buffer is used to copy the blob data, if nil, a new buffer is allocated.
func ArchiveBlob(name string, size int64, b ReadOnlyBlob, writer *tar.Writer, buf []byte) (err error) {
	if err := writer.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     size,
		ModTime:  time.Unix(0, 0),
	}); err != nil {
		return fmt.Errorf("unable to write blob header for %s: %w", name, err)
	}
	data, err := b.ReadCloser()
	if err != nil {
		return fmt.Errorf("unable to read blob %s: %w", name, err)
	}
	defer func() {
		err = errors.Join(err, data.Close())
	}()

	if buf == nil {
		buf = make([]byte, DefaultArchiveBlobBufferSize)
	}

	if _, err := io.CopyBuffer(writer, io.LimitReader(data, size), buf); err != nil {
		return fmt.Errorf("unable to write blob %s: %w", name, err)
	}

	return nil
}
