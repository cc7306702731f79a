package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"os"
	"strings"

	"ocm.software/open-component-model/hangar/bindings/go/archive/index/v1"
	"ocm.software/open-component-model/hangar/bindings/go/blob"
	"ocm.software/open-component-model/hangar/bindings/go/blob/compression"
	"ocm.software/open-component-model/hangar/bindings/go/blob/part"
	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
)

// FileFormat represents the format of an archive.
// A FileFormat can be translated to any other FileFormat without loss of information.
type FileFormat int

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrArchiveCorrupt is returned if the index references blobs that are not in the archive.
	ErrArchiveCorrupt = errors.New("archive is corrupt")
)

const (
	// FormatUnknown represents an unknown format.
	FormatUnknown FileFormat = iota
	// FormatDirectory represents an archive stored as a directory at a root path.
	FormatDirectory
	// FormatTAR represents an archive stored as a Tape (TAR) archive.
	FormatTAR
	// FormatTGZ represents an archive stored as a TAR archive compressed with GZip.
	FormatTGZ
	// FormatTZST represents an archive stored as a TAR archive compressed with Zstandard.
	FormatTZST
)

// formats is a list of all supported formats corresponding to the FileFormat constants.
var formats = [5]string{"unknown", "directory", "tar", "tgz", "tzst"}

func (f FileFormat) String() string {
	if int(f) < 0 || int(f) >= len(formats) {
		return formats[FormatUnknown]
	}
	return formats[f]
}

// IsTAR reports whether the format is stored as a (possibly compressed) TAR stream.
func (f FileFormat) IsTAR() bool {
	return f == FormatTAR || f == FormatTGZ || f == FormatTZST
}

// Compression returns the compression method applied to the TAR stream of the format.
func (f FileFormat) Compression() compression.Method {
	switch f {
	case FormatTGZ:
		return compression.MethodGzip
	case FormatTZST:
		return compression.MethodZstd
	default:
		return compression.MethodNone
	}
}

// ParseFormat parses the name of a format as returned by FileFormat.String.
func ParseFormat(s string) (FileFormat, error) {
	for i, name := range formats {
		if i > 0 && strings.EqualFold(s, name) {
			return FileFormat(i), nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Flags to Open. They are not bound to a type because the underlying type changes based on syscall interfaces.
const (
	// O_RDONLY indicates that the archive is opened in read-only mode.
	O_RDONLY = os.O_RDONLY
	// O_RDWR indicates that the archive is opened in read-write mode.
	O_RDWR = os.O_RDWR
	// O_CREATE indicates that the archive is created if it does not exist.
	O_CREATE = os.O_CREATE
)

// OpenOptions contains options for opening an archive.
type OpenOptions struct {
	// Path is the path to the archive. For split archives this is the name without the part suffix,
	// although the name of any part is accepted as well.
	Path string
	// Format specifies the format of the archive. FormatUnknown detects the format from Path.
	Format FileFormat
	// Flag specifies the open flags (O_RDONLY, O_RDWR, O_CREATE)
	Flag int
	// TempDir is the directory used for extracting TAR based archives.
	// If not set, the default from os.TempDir is used.
	TempDir string
	// PartSize splits TAR based archives into parts of this size when they are written back.
	// Zero writes a single file.
	PartSize int64
}

// Archive provides access to the index and the blobs of an archive.
// Depending on the FileFormat, the Archive may be backed by a directory or a TAR stream.
//
// Working on TAR based archives is handled by
// 1. Extracting the archive into a temporary directory
// 2. Working on the directory
// 3. Archiving the directory back into the original format
//
// Plain TAR archives that are opened read-only are accessed in place.
type Archive interface {
	Format() FileFormat

	IndexStore
	BlobStore

	// Close releases the resources of the archive, including any temporary extraction directory.
	Close() error
}

// IndexStore provides access to the index of an archive.
type IndexStore interface {
	ReadOnlyIndexStore
	// SetIndex sets the index of the archive.
	SetIndex(ctx context.Context, index v1.Index) (err error)
}

type ReadOnlyIndexStore interface {
	// GetIndex returns the index of the archive.
	// Repeated calls return the same Index so that concurrent writers share their changes.
	GetIndex(ctx context.Context) (v1.Index, error)
}

// BlobStore provides access to the blobs of an archive.
type BlobStore interface {
	ReadOnlyBlobStore
	// SaveBlob saves the blob to the archive. The blob must know its digest.
	// Saving a blob that is already present is a no-op.
	SaveBlob(ctx context.Context, blob blob.ReadOnlyBlob) (err error)
	// DeleteBlob deletes the blob with the specified digest from the archive.
	DeleteBlob(ctx context.Context, digest string) (err error)
}

type ReadOnlyBlobStore interface {
	// ListBlobs returns a list of all blobs in the archive irrespective of if they are referenced by the index.
	ListBlobs(ctx context.Context) ([]string, error)
	// GetBlob returns the blob with the specified digest.
	GetBlob(ctx context.Context, digest string) (blob.ReadOnlyBlob, error)
	// HasBlob reports whether the blob with the specified digest is present.
	HasBlob(ctx context.Context, digest string) (bool, error)
}

// Open opens an archive using the provided options.
// The archive may be backed by a temporary directory if the format is TAR based.
// In this case the temporary directory is used to extract the archive before returning access on that path.
func Open(ctx context.Context, opts OpenOptions) (*FileSystemArchive, error) {
	switch opts.Format {
	case FormatUnknown:
		a, _, err := OpenByFileExtension(ctx, opts)
		return a, err
	case FormatDirectory:
		a, err := OpenFromOSPath(opts.Path, opts.Flag)
		if err != nil {
			return nil, fmt.Errorf("unable to open filesystem archive: %w", err)
		}
		return a, nil
	case FormatTAR, FormatTGZ, FormatTZST:
		return openTAR(ctx, opts)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func openTAR(ctx context.Context, opts OpenOptions) (*FileSystemArchive, error) {
	logger := log.Realm(ctx, "archive")
	name, _ := part.BaseName(opts.Path)
	files, err := part.Files(name)
	if errors.Is(err, fs.ErrNotExist) {
		if opts.Flag&O_CREATE == 0 {
			return nil, fmt.Errorf("archive %s does not exist: %w", name, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("unable to access archive %s: %w", name, err)
	}

	if len(files) == 1 && opts.Format == FormatTAR && isFlagReadOnly(opts.Flag) {
		logger.DebugContext(ctx, "accessing tar archive in place", "path", files[0])
		return OpenTARInPlace(files[0])
	}

	tmp, err := tempDir(name, opts.TempDir)
	if err != nil {
		return nil, err
	}
	cleanup := func() error { return os.RemoveAll(tmp) }

	if len(files) == 0 {
		a, err := OpenFromOSPath(tmp, O_RDWR|O_CREATE)
		if err != nil {
			return nil, errors.Join(err, cleanup())
		}
		a.format = opts.Format
		a.onClose(cleanup)
		return a, nil
	}

	logger.DebugContext(ctx, "archive is automatically extracted and will need to be rearchived to persist",
		"path", name, "tmp", tmp, "parts", len(files))
	a, err := ExtractTAR(ctx, tmp, name, opts.Format, opts.Flag)
	if err != nil {
		return nil, errors.Join(err, cleanup())
	}
	a.onClose(cleanup)
	return a, nil
}

func tempDir(path, base string) (string, error) {
	hash := fnv.New32a()
	if _, err := hash.Write([]byte(path)); err != nil {
		return "", fmt.Errorf("unable to hash path to determine temporary archive: %w", err)
	}
	if base == "" {
		base = os.TempDir()
	}
	tmp, err := os.MkdirTemp(base, fmt.Sprintf("hangar-%x-*", hash.Sum(nil)))
	if err != nil {
		return "", fmt.Errorf("unable to create temporary directory to extract archive: %w", err)
	}
	return tmp, nil
}

// DetectFormat determines the format of the archive at path.
// Known extensions are honored first, so archives can be detected before they are created.
// A part suffix is ignored. Existing files without a known extension are detected by their content.
func DetectFormat(path string) (FileFormat, error) {
	name, _ := part.BaseName(path)
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		return FormatTGZ, nil
	case strings.HasSuffix(lower, ".tzst"), strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tar.zstd"):
		return FormatTZST, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTAR, nil
	}

	if fi, err := os.Stat(name); err == nil && fi.IsDir() {
		return FormatDirectory, nil
	}
	if !part.Exists(name) {
		return FormatDirectory, nil
	}
	return detectContent(name)
}

func detectContent(name string) (_ FileFormat, err error) {
	data, err := part.Open(name)
	if err != nil {
		return FormatUnknown, err
	}
	defer func() {
		err = errors.Join(err, data.Close())
	}()
	method, err := compression.Detect(bufio.NewReader(data))
	if err != nil && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("unable to detect format of %s: %w", name, err)
	}
	switch method {
	case compression.MethodGzip:
		return FormatTGZ, nil
	case compression.MethodZstd:
		return FormatTZST, nil
	default:
		return FormatTAR, nil
	}
}

// OpenByFileExtension opens an archive at the specified path by determining the format with DetectFormat.
// For more information on how a flag behaves for TAR based formats, see ExtractTAR.
func OpenByFileExtension(ctx context.Context, opts OpenOptions) (archive *FileSystemArchive, discovered FileFormat, err error) {
	if discovered, err = DetectFormat(opts.Path); err != nil {
		return nil, FormatUnknown, err
	}
	opts.Format = discovered
	if archive, err = Open(ctx, opts); err != nil {
		return nil, FormatUnknown, fmt.Errorf("failed to open archive: %w", err)
	}
	return archive, discovered, nil
}

// WorkWithin opens an archive using the provided options and calls the work function with the archive.
// If the archive is opened with O_RDWR, it is verified after work and TAR based archives are
// written back into their format, split into parts if OpenOptions.PartSize is set.
// If an error occurs during the work function, TAR based archives are not written back.
// Directory archives are edited in place, which can lead to non-atomic failures.
func WorkWithin(ctx context.Context, opts OpenOptions, work func(ctx context.Context, archive Archive) error) (err error) {
	format := opts.Format
	var a *FileSystemArchive
	if format == FormatUnknown {
		a, format, err = OpenByFileExtension(ctx, opts)
	} else {
		a, err = Open(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to open archive %q: %w", opts.Path, err)
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	if err := work(ctx, a); err != nil {
		return fmt.Errorf("failed to work within archive at %q: %w", opts.Path, err)
	}

	if opts.Flag&O_RDWR == 0 {
		return nil
	}
	if err := Verify(ctx, a); err != nil {
		return err
	}
	if format.IsTAR() {
		log.Realm(ctx, "archive").DebugContext(ctx,
			"work within archive has concluded and format and mode indicates it needs to be rearchived, this might take a while",
			"path", opts.Path,
			"format", format.String(),
			"partSize", opts.PartSize,
		)
		name, _ := part.BaseName(opts.Path)
		if err := Write(ctx, a, name, format, opts.PartSize); err != nil {
			return fmt.Errorf("failed to archive %q: %w", opts.Path, err)
		}
	}
	return nil
}

// Verify checks that every blob referenced by the index is present in the archive.
// Unreferenced blobs are allowed.
func Verify(ctx context.Context, a Archive) error {
	idx, err := a.GetIndex(ctx)
	if err != nil {
		return fmt.Errorf("unable to get index: %w", err)
	}
	var missing []string
	for _, dig := range idx.Digests() {
		ok, err := a.HasBlob(ctx, dig)
		if err != nil {
			return fmt.Errorf("unable to check blob %s: %w", dig, err)
		}
		if !ok {
			missing = append(missing, dig)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d referenced blobs are missing: %s", ErrArchiveCorrupt, len(missing), strings.Join(missing, ", "))
	}
	return nil
}

// Remove deletes the archive at path in any format, including all of its parts.
func Remove(path string) error {
	name, _ := part.BaseName(path)
	if fi, err := os.Stat(name); err == nil && fi.IsDir() {
		return os.RemoveAll(name)
	}
	return part.Remove(name)
}

// Exists reports whether an archive exists at path in any format.
func Exists(path string) bool {
	name, _ := part.BaseName(path)
	if fi, err := os.Stat(name); err == nil && fi.IsDir() {
		return true
	}
	return part.Exists(name)
}

// DefaultName returns the default file name of an archive of the given format.
func DefaultName(format FileFormat) string {
	switch format {
	case FormatTZST:
		return "saved-images.tar.zst"
	case FormatTAR:
		return "saved-images.tar"
	case FormatDirectory:
		return "saved-images"
	default:
		return "saved-images.tar.gz"
	}
}

func isFlagReadOnly(flag int) bool {
	return flag&os.O_WRONLY == 0 && flag&os.O_RDWR == 0
}
