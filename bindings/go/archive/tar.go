package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/nlepage/go-tarfs"
	"golang.org/x/sync/errgroup"

	"ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/blob"
	"ocm.software/open-component-model/hangar/bindings/go/blob/compression"
	"ocm.software/open-component-model/hangar/bindings/go/blob/filesystem"
	"ocm.software/open-component-model/hangar/bindings/go/blob/part"
	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
)

// tmpSuffix is appended to the name of an archive while it is being written.
const tmpSuffix = ".hangar-tmp"

// OpenTARInPlace opens an uncompressed single file TAR archive for reading without extracting it.
func OpenTARInPlace(path string) (*FileSystemArchive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open tar file: %w", err)
	}
	tfs, err := tarfs.New(file)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("unable to read tar file %s: %w", path, err), file.Close())
	}
	a := NewFileSystemArchive(tfs)
	a.format = FormatTAR
	a.onClose(file.Close)
	return a, nil
}

// openStream returns the decompressed TAR stream of the archive called name, joining its parts.
func openStream(ctx context.Context, name string, format FileFormat) (io.ReadCloser, error) {
	stream, err := part.Open(name)
	if err != nil {
		return nil, fmt.Errorf("unable to open archive file: %w", err)
	}
	decompressed, err := compression.NewReader(withContext(ctx, stream), format.Compression())
	if err != nil {
		return nil, errors.Join(err, stream.Close())
	}
	return struct {
		io.Reader
		io.Closer
	}{decompressed, closerFunc(func() error {
		return errors.Join(decompressed.Close(), stream.Close())
	})}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// ExtractTAR extracts an archive from the file(s) called path and writes it to the given base directory.
// The base directory must exist and will form the root of the extracted archive.
// The format of the file must be one of the TAR based formats.
// The TAR itself is not modified.
// If the flag O_RDONLY is set, the extracted archive will be read-only as well, however
// it is first opened as O_RDWR to copy the data from the TAR into the directory.
func ExtractTAR(ctx context.Context, base, path string, format FileFormat, flag int) (extracted *FileSystemArchive, err error) {
	if !format.IsTAR() {
		return nil, ErrUnsupportedFormat
	}

	stream, err := openStream(ctx, path, format)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, stream.Close())
	}()

	a, err := OpenFromOSPath(base, O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("unable to setup file system archive: %w", err)
	}
	a.format = format

	if err := extractTARToFilesystemArchive(tar.NewReader(stream), a); err != nil {
		return nil, errors.Join(fmt.Errorf("unable to extract tar to filesystem archive: %w", err), a.Close())
	}

	if isFlagReadOnly(flag) {
		if roFS, ok := a.FS().(filesystem.ReadOnlyFS); ok {
			roFS.ForceReadOnly()
		}
	}

	return a, nil
}

func extractTARToFilesystemArchive(reader *tar.Reader, a *FileSystemArchive) error {
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name, err := entryName(header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeReg:
			if err := a.writeFile(name, reader, header.Size, nil); err != nil {
				return fmt.Errorf("unable to write file: %w", err)
			}
		case tar.TypeDir:
			if a.mkdirFS == nil {
				continue
			}
			if err := a.mkdirFS.MkdirAll(name, 0o755); err != nil {
				return fmt.Errorf("unable to create directory: %w", err)
			}
		}
	}
}

func entryName(name string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(name, "./"))
	if strings.Contains(name, "..") || !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("invalid tar entry %q", name)
	}
	return cleaned, nil
}

// ReadIndex reads only the index of the archive at path.
// For TAR based archives the stream is read until the index entry, which is always written first.
func ReadIndex(ctx context.Context, path string) (_ v1.Index, err error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	name, _ := part.BaseName(path)
	if !format.IsTAR() {
		a, err := OpenFromOSPath(name, O_RDONLY)
		if err != nil {
			return nil, err
		}
		defer func() {
			err = errors.Join(err, a.Close())
		}()
		return a.GetIndex(ctx)
	}

	stream, err := openStream(ctx, name, format)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, stream.Close())
	}()
	reader := tar.NewReader(stream)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return v1.NewIndex(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read archive %s: %w", name, err)
		}
		if entry, err := entryName(header.Name); err == nil && entry == v1.IndexFileName {
			idx, err := v1.DecodeIndex(reader)
			if err != nil {
				return nil, fmt.Errorf("unable to decode archive index: %w", err)
			}
			return idx, nil
		}
	}
}

// Write writes the archive to the specified path in the given format.
// TAR based formats are split into parts of partSize if it is not zero.
// If the format is FormatDirectory, the archive is copied to the specified path.
func Write(ctx context.Context, a Archive, path string, format FileFormat, partSize int64) (err error) {
	done := log.Operation(ctx, "archive", "write",
		slog.String("path", path), slog.String("format", format.String()))
	defer func() { done(err) }()

	switch {
	case format == FormatDirectory:
		return WriteDirectory(ctx, a, path)
	case format.IsTAR():
		return WriteTAR(ctx, a, path, format, partSize)
	default:
		return ErrUnsupportedFormat
	}
}

// WriteDirectory writes the archive to the specified path with FormatDirectory.
// The blobs are copied to the directory concurrently and the index is written last.
// The source archive is not modified and only read from.
// The directory is created if it does not exist.
func WriteDirectory(ctx context.Context, a Archive, path string) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	blobs, err := a.ListBlobs(ctx)
	if err != nil {
		return fmt.Errorf("unable to list blobs: %w", err)
	}

	dst, err := OpenFromOSPath(path, O_RDWR|O_CREATE)
	if err != nil {
		return fmt.Errorf("unable to setup file system archive: %w", err)
	}
	defer func() {
		err = errors.Join(err, dst.Close())
	}()

	if err := copyBlobs(ctx, a, dst, blobs); err != nil {
		return err
	}

	idx, err := a.GetIndex(ctx)
	if err != nil {
		return fmt.Errorf("unable to get index: %w", err)
	}
	if err := dst.SetIndex(ctx, idx); err != nil {
		return fmt.Errorf("unable to set index: %w", err)
	}

	return nil
}

// copyBlobs copies the given blobs from src to dst concurrently, skipping blobs dst already has.
func copyBlobs(ctx context.Context, src ReadOnlyBlobStore, dst BlobStore, digests []string) error {
	if len(digests) == 0 {
		return nil
	}
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for _, digest := range digests {
		group.Go(func() error {
			if ok, err := dst.HasBlob(ctx, digest); err != nil {
				return err
			} else if ok {
				return nil
			}
			b, err := src.GetBlob(ctx, digest)
			if err != nil {
				return fmt.Errorf("unable to get blob %s: %w", digest, err)
			}
			if err := dst.SaveBlob(ctx, b); err != nil {
				return fmt.Errorf("unable to save blob %s: %w", digest, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// WriteTAR writes the archive as a TAR stream to path, compressed according to format.
// The stream is first written next to path and replaces any existing archive (including
// all of its parts) only once it is complete.
//
// see WriteTARToWriter for more details.
func WriteTAR(ctx context.Context, a Archive, path string, format FileFormat, partSize int64) (err error) {
	tmp := path + tmpSuffix
	w, err := part.NewWriter(tmp, partSize)
	if err != nil {
		return fmt.Errorf("unable to open file for writing archive: %w", err)
	}

	err = func() (err error) {
		defer func() {
			err = errors.Join(err, w.Close())
		}()
		return WriteTARToWriter(ctx, a, w, format)
	}()
	if err != nil {
		return errors.Join(err, part.Remove(tmp))
	}

	if err := part.Remove(path); err != nil {
		return fmt.Errorf("unable to replace archive %s: %w", path, err)
	}
	for _, file := range w.Files() {
		if err := os.Rename(file, path+strings.TrimPrefix(file, tmp)); err != nil {
			return fmt.Errorf("unable to move archive into place: %w", err)
		}
	}
	log.Realm(ctx, "archive").DebugContext(ctx, "archive written", "path", path, "parts", len(w.Files()))
	return nil
}

// WriteTARToWriter writes the archive as a TAR stream to the specified writer, compressed according to format.
//
// The index is written as first entry so that it can be read without scanning the whole stream.
// The blobs are written sequentially in the order they are returned by ListBlobs.
func WriteTARToWriter(ctx context.Context, a Archive, writer io.Writer, format FileFormat) (err error) {
	if !format.IsTAR() {
		return ErrUnsupportedFormat
	}

	compressed, err := compression.NewWriter(writer, format.Compression())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, compressed.Close())
	}()
	tarWriter := tar.NewWriter(compressed)
	defer func() {
		err = errors.Join(err, tarWriter.Close())
	}()

	blobs, err := a.ListBlobs(ctx)
	if err != nil {
		return fmt.Errorf("unable to list blobs: %w", err)
	}

	copyBuffer := make([]byte, blob.DefaultArchiveBlobBufferSize) // shared buffer for all data to avoid allocs.

	if err := writeIndex(ctx, a, tarWriter, copyBuffer); err != nil {
		return fmt.Errorf("unable to archive index: %w", err)
	}
	if err := tarWriter.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     BlobsDirectoryName + "/",
		Mode:     0o755,
		ModTime:  time.Unix(0, 0),
	}); err != nil {
		return fmt.Errorf("unable to write blobs directory header: %w", err)
	}
	for _, digest := range blobs {
		if err := context.Cause(ctx); err != nil {
			return err
		}
		b, err := a.GetBlob(ctx, digest)
		if err != nil {
			return fmt.Errorf("unable to get blob %s: %w", digest, err)
		}
		size, sizeAware := b.(blob.SizeAware)
		if !sizeAware || size.Size() == blob.SizeUnknown {
			return fmt.Errorf("blob %s has no known size", digest)
		}
		file, err := ToBlobFileName(digest)
		if err != nil {
			return err
		}
		if err := blob.ArchiveBlob(path.Join(BlobsDirectoryName, file), size.Size(), b, tarWriter, copyBuffer); err != nil {
			return err
		}
	}

	return nil
}

func writeIndex(ctx context.Context, a Archive, tarWriter *tar.Writer, buf []byte) (err error) {
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return fmt.Errorf("unable to get index: %w", err)
	}
	rawIdx, err := v1.Encode(idx)
	if err != nil {
		return fmt.Errorf("unable to encode index: %w", err)
	}
	if err := tarWriter.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     v1.IndexFileName,
		Mode:     0o644,
		Size:     int64(len(rawIdx)),
		ModTime:  time.Unix(0, 0),
	}); err != nil {
		return fmt.Errorf("unable to write index header: %w", err)
	}
	if _, err := io.CopyBuffer(tarWriter, bytes.NewReader(rawIdx), buf); err != nil {
		return fmt.Errorf("unable to write index: %w", err)
	}
	return nil
}
