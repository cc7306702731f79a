package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/cobra"
	"oras.land/oras-go/v2/registry/remote/retry"

	harchive "ocm.software/open-component-model/hangar/bindings/go/archive"
	"ocm.software/open-component-model/hangar/bindings/go/blob"
	"ocm.software/open-component-model/hangar/bindings/go/blob/filesystem"
	"ocm.software/open-component-model/hangar/bindings/go/blob/inmemory"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
)

// FetchTimeout bounds the download of files stored from a URL.
const FetchTimeout = 30 * time.Second

func newStore() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store {file}",
		Short: "Store files in an archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(newStoreFile())
	return cmd
}

func newStoreFile() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file -s <path|url> -d <archive>",
		Short: "Store a local file or a downloaded file in an archive",
		Long: `Store a file next to the images of an archive. The source is a local path or an http(s) URL.

The archive is created if it does not exist. Files are stored by name, use --overwrite to replace
a file of the same name.`,
		Example: `hangar archive store file -s ./chart.tgz -d saved-images.tar.gz
hangar archive store file -s https://example.com/install.sh -n install.sh -d saved-images.tar.gz`,
		Args:              cobra.NoArgs,
		RunE:              runStoreFile,
		DisableAutoGenTag: true,
	}
	flags := cmd.Flags()
	flags.StringP(hangarcmd.SourceFlag, "s", "", "path or http(s) URL of the file")
	_ = cmd.MarkFlagRequired(hangarcmd.SourceFlag)
	flags.StringP(hangarcmd.NameFlag, "n", "", "name the file is stored under, defaults to the base name of the source")
	flags.StringP(hangarcmd.DestinationFlag, "d", "", "archive the file is stored in")
	_ = cmd.MarkFlagRequired(hangarcmd.DestinationFlag)
	flags.Bool(hangarcmd.OverwriteFlag, false, "replace a stored file of the same name")
	flags.String(hangarcmd.DescriptionFlag, "", "description of the file")
	flags.String(hangarcmd.VendorFlag, "", "vendor of the file")
	return cmd
}

func runStoreFile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	source, _ := flags.GetString(hangarcmd.SourceFlag)
	name, _ := flags.GetString(hangarcmd.NameFlag)
	destination, _ := flags.GetString(hangarcmd.DestinationFlag)
	overwrite, _ := flags.GetBool(hangarcmd.OverwriteFlag)
	description, _ := flags.GetString(hangarcmd.DescriptionFlag)
	vendor, _ := flags.GetString(hangarcmd.VendorFlag)

	b, base, err := fileSource(ctx, source)
	if err != nil {
		return err
	}
	if name == "" {
		name = base
	}
	annotations := map[string]string{
		ocispec.AnnotationTitle:   name,
		ocispec.AnnotationSource:  source,
		ocispec.AnnotationCreated: time.Now().UTC().Format(time.RFC3339),
	}
	if description != "" {
		annotations[ocispec.AnnotationDescription] = description
	}
	if vendor != "" {
		annotations[ocispec.AnnotationVendor] = vendor
	}

	opts := harchive.OpenOptions{
		Path:    destination,
		Flag:    harchive.O_RDWR | harchive.O_CREATE,
		TempDir: hctx.FromContext(ctx).TempDir(),
	}
	return harchive.WorkWithin(ctx, opts, func(ctx context.Context, a harchive.Archive) error {
		obj, err := harchive.StoreObject(ctx, a, b, harchive.StoreObjectOptions{
			Name:        name,
			Annotations: annotations,
			Overwrite:   overwrite,
		})
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "file stored", slog.String("name", obj.Name), slog.String("archive", destination),
			slog.String("digest", obj.Digest), slog.String("size", units.BytesSize(float64(obj.Size))))
		return nil
	})
}

// fileSource returns the blob of a local file or downloaded URL together with its base name.
func fileSource(ctx context.Context, source string) (blob.ReadOnlyBlob, string, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		b, err := fetch(ctx, u)
		if err != nil {
			return nil, "", err
		}
		return b, path.Base(u.Path), nil
	}
	b, err := filesystem.GetBlobFromOSPath(source)
	if err != nil {
		return nil, "", err
	}
	b.SetMediaType(harchive.FileMediaType)
	return b, filepath.Base(source), nil
}

func fetch(ctx context.Context, u *url.URL) (_ blob.ReadOnlyBlob, err error) {
	client := &http.Client{
		Transport: retry.NewTransport(nil),
		Timeout:   FetchTimeout,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not download %s: %w", u.Redacted(), err)
	}
	defer func() {
		err = errors.Join(err, resp.Body.Close())
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not download %s: %s", u.Redacted(), resp.Status)
	}
	b := inmemory.New(resp.Body, inmemory.WithMediaType(harchive.FileMediaType))
	if err := b.Load(); err != nil {
		return nil, fmt.Errorf("could not download %s: %w", u.Redacted(), err)
	}
	return b, nil
}

func newExportFile() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "file -n <name> -s <archive>",
		Short:             "Export a stored file of an archive",
		Example:           `hangar archive export file -n chart.tgz -s saved-images.tar.gz -d ./chart.tgz`,
		Args:              cobra.NoArgs,
		RunE:              runExportFile,
		DisableAutoGenTag: true,
	}
	flags := cmd.Flags()
	flags.StringP(hangarcmd.NameFlag, "n", "", "name of the stored file")
	_ = cmd.MarkFlagRequired(hangarcmd.NameFlag)
	flags.StringP(hangarcmd.SourceFlag, "s", "", "archive the file is stored in")
	_ = cmd.MarkFlagRequired(hangarcmd.SourceFlag)
	flags.StringP(hangarcmd.DestinationFlag, "d", "", "path the file is written to, defaults to its name")
	flags.BoolP(hangarcmd.AutoYesFlag, "y", false, "replace an existing file")
	return cmd
}

func runExportFile(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	flags := cmd.Flags()
	name, _ := flags.GetString(hangarcmd.NameFlag)
	source, _ := flags.GetString(hangarcmd.SourceFlag)
	destination, _ := flags.GetString(hangarcmd.DestinationFlag)
	overwrite, _ := flags.GetBool(hangarcmd.AutoYesFlag)
	if destination == "" {
		destination = filepath.Base(name)
	}

	src, err := openSource(ctx, source)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, src.Close())
	}()
	if _, _, err := harchive.GetObject(ctx, src, name); err != nil {
		return err
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(destination, flag, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("file %q already exists, use --%s to replace it", destination, hangarcmd.AutoYesFlag)
	} else if err != nil {
		return err
	}
	obj, err := harchive.ExportObject(ctx, src, name, out)
	if err = errors.Join(err, out.Close()); err != nil {
		return errors.Join(err, os.Remove(destination))
	}
	slog.InfoContext(ctx, "file exported", slog.String("name", obj.Name), slog.String("path", destination),
		slog.String("digest", obj.Digest))
	return nil
}
