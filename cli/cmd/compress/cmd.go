package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	"ocm.software/open-component-model/hangar/bindings/go/blob/compression"
	"ocm.software/open-component-model/hangar/bindings/go/blob/part"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
	"ocm.software/open-component-model/hangar/cli/internal/flags/enum"
	"ocm.software/open-component-model/hangar/cli/internal/flags/size"
)

const defaultPartSize = 2 << 30

var extensions = map[compression.Method]string{
	compression.MethodGzip: ".gz",
	compression.MethodZstd: ".zst",
}

// New returns the compress command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress -f <path>",
		Short: "Compress a directory archive or a file",
		Long: `Compress a directory archive into a compressed TAR archive, or compress a single file.

Directory archives become saved-images.tar.gz or saved-images.tar.zst unless a destination is given.
Other files get the extension of the format appended. Use --part to split the result into parts.`,
		Example: `hangar compress -f saved-images --format zstd
hangar compress -f saved-images -d saved-images.tar.gz --part --part-size 1G`,
		Args:              cobra.NoArgs,
		RunE:              runCompress,
		DisableAutoGenTag: true,
	}
	flags := cmd.Flags()
	flags.StringP(hangarcmd.FileFlag, "f", "", "directory archive or file to compress")
	_ = cmd.MarkFlagRequired(hangarcmd.FileFlag)
	flags.StringP(hangarcmd.DestinationFlag, "d", "", "path of the compressed result")
	enum.Var(flags, hangarcmd.FormatFlag, []string{compression.MethodGzip.String(), compression.MethodZstd.String()}, "compression format")
	flags.Bool(hangarcmd.PartFlag, false, "split the result into parts")
	size.PartSizeVar(flags, hangarcmd.PartSizeFlag, defaultPartSize, "size of the parts")
	flags.BoolP(hangarcmd.AutoYesFlag, "y", false, "replace an existing destination")
	return cmd
}

// NewDecompress returns the decompress command.
func NewDecompress() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompress -f <file>",
		Short: "Decompress a TAR archive into a directory archive, or decompress a single file",
		Long: `Decompress a TAR archive into a directory archive, or decompress a single file.

Split archives are read from all of their parts. The compression format is detected from the content.`,
		Example:           `hangar decompress -f saved-images.tar.gz -d saved-images`,
		Args:              cobra.NoArgs,
		RunE:              runDecompress,
		DisableAutoGenTag: true,
	}
	flags := cmd.Flags()
	flags.StringP(hangarcmd.FileFlag, "f", "", "archive or file to decompress")
	_ = cmd.MarkFlagRequired(hangarcmd.FileFlag)
	flags.StringP(hangarcmd.DestinationFlag, "d", "", "path of the decompressed result")
	flags.BoolP(hangarcmd.AutoYesFlag, "y", false, "replace an existing destination")
	return cmd
}

func runCompress(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	source, _ := flags.GetString(hangarcmd.FileFlag)
	destination, _ := flags.GetString(hangarcmd.DestinationFlag)
	format, err := enum.Get(flags, hangarcmd.FormatFlag)
	if err != nil {
		return err
	}
	method, err := compression.ParseMethod(format)
	if err != nil {
		return err
	}
	var partSize int64
	if split, _ := flags.GetBool(hangarcmd.PartFlag); split {
		if partSize, err = size.Get(flags, hangarcmd.PartSizeFlag); err != nil {
			return err
		}
	}

	fi, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("could not access %q: %w", source, err)
	}
	if fi.IsDir() {
		archiveFormat := archive.FormatTGZ
		if method == compression.MethodZstd {
			archiveFormat = archive.FormatTZST
		}
		if destination == "" {
			destination = archive.DefaultName(archiveFormat)
		}
		if err := replace(cmd, destination); err != nil {
			return err
		}
		return compressArchive(ctx, source, destination, archiveFormat, partSize)
	}

	if destination == "" {
		destination = source + extensions[method]
	}
	if err := replace(cmd, destination); err != nil {
		return err
	}
	return compressFile(ctx, source, destination, method, partSize)
}

func compressArchive(ctx context.Context, source, destination string, format archive.FileFormat, partSize int64) (err error) {
	a, err := archive.OpenFromOSPath(source, archive.O_RDONLY)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	if err := archive.Verify(ctx, a); err != nil {
		return err
	}
	if err := archive.Write(ctx, a, destination, format, partSize); err != nil {
		return fmt.Errorf("could not compress archive: %w", err)
	}
	slog.InfoContext(ctx, "archive compressed", slog.String("source", source), slog.String("destination", destination),
		slog.String("format", format.String()))
	return nil
}

func compressFile(ctx context.Context, source, destination string, method compression.Method, partSize int64) (err error) {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()
	out, err := part.NewWriter(destination, partSize)
	if err != nil {
		return err
	}
	n, err := compression.Encode(out, in, method)
	if err = errors.Join(err, out.Close()); err != nil {
		return fmt.Errorf("could not compress %q: %w", source, errors.Join(err, part.Remove(destination)))
	}
	slog.InfoContext(ctx, "file compressed", slog.String("source", source), slog.String("destination", destination),
		slog.String("format", method.String()), slog.Int64("bytes", n), slog.Int("parts", len(out.Files())))
	return nil
}

func runDecompress(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	source, _ := cmd.Flags().GetString(hangarcmd.FileFlag)
	destination, _ := cmd.Flags().GetString(hangarcmd.DestinationFlag)
	name, _ := part.BaseName(source)
	if !part.Exists(name) {
		return fmt.Errorf("file %q does not exist", source)
	}

	format, err := archive.DetectFormat(name)
	if err != nil {
		return err
	}
	if hasArchiveExtension(name) {
		if destination == "" {
			destination = trimExtension(name)
		}
		if err := replace(cmd, destination); err != nil {
			return err
		}
		return decompressArchive(ctx, name, destination, format)
	}

	if destination == "" {
		destination = trimExtension(name)
		if destination == name {
			return fmt.Errorf("cannot derive the destination of %q, use --%s", source, hangarcmd.DestinationFlag)
		}
	}
	if err := replace(cmd, destination); err != nil {
		return err
	}
	return decompressFile(ctx, name, destination)
}

func decompressArchive(ctx context.Context, source, destination string, format archive.FileFormat) error {
	opts := archive.OpenOptions{
		Path:    source,
		Format:  format,
		Flag:    archive.O_RDONLY,
		TempDir: hctx.FromContext(ctx).TempDir(),
	}
	if err := archive.WorkWithin(ctx, opts, func(ctx context.Context, a archive.Archive) error {
		return archive.WriteDirectory(ctx, a, destination)
	}); err != nil {
		return fmt.Errorf("could not decompress archive: %w", err)
	}
	slog.InfoContext(ctx, "archive decompressed", slog.String("source", source), slog.String("destination", destination))
	return nil
}

func decompressFile(ctx context.Context, source, destination string) (err error) {
	in, err := part.Open(source)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()
	r, method, err := compression.NewDetectingReader(in)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, r)
	if err = errors.Join(err, out.Close()); err != nil {
		return fmt.Errorf("could not decompress %q: %w", source, errors.Join(err, os.Remove(destination)))
	}
	slog.InfoContext(ctx, "file decompressed", slog.String("source", source), slog.String("destination", destination),
		slog.String("format", method.String()), slog.Int64("bytes", n))
	return nil
}

// replace fails if path exists, unless the auto-yes flag allows removing it.
func replace(cmd *cobra.Command, path string) error {
	if !archive.Exists(path) {
		return nil
	}
	if overwrite, _ := cmd.Flags().GetBool(hangarcmd.AutoYesFlag); !overwrite {
		return fmt.Errorf("%q already exists, use --%s to replace it", path, hangarcmd.AutoYesFlag)
	}
	return archive.Remove(path)
}

var (
	archiveExtensions     = []string{".tar.gz", ".tgz", ".tar.zst", ".tar.zstd", ".tzst", ".tar"}
	compressionExtensions = []string{".gz", ".zst"}
)

func hasArchiveExtension(name string) bool {
	lower := strings.ToLower(name)
	return slices.ContainsFunc(archiveExtensions, func(ext string) bool { return strings.HasSuffix(lower, ext) })
}

// trimExtension strips an archive or compression extension from name.
func trimExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range slices.Concat(archiveExtensions, compressionExtensions) {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
