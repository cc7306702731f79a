package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/archive"
	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/bindings/go/rsa/signing/handler"
	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
	"ocm.software/open-component-model/hangar/cli/internal/flags/enum"
	"ocm.software/open-component-model/hangar/cli/internal/flags/file"
	"ocm.software/open-component-model/hangar/cli/internal/flags/log"
	"ocm.software/open-component-model/hangar/cli/internal/flags/size"
	"ocm.software/open-component-model/hangar/cli/internal/render"
)

// options are the resolved flags of a batch command.
type options struct {
	list      string
	parse     imagelist.ParseOptions
	workers   int
	platforms []imagelist.Platform
	failed    string
	timeout   time.Duration
	// archive is the archive side of the command, if any.
	archive   archive.OpenOptions
	overwrite bool
	signKey   string
}

func run(cmd *cobra.Command, d Description, action transfer.Action) error {
	opts, err := readOptions(cmd, d, action)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	logger := slog.Default().With(slog.String("command", d.Name), slog.String("action", action.String()))

	specs, err := imagelist.ParseFile(opts.list, opts.parse)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		logger.WarnContext(ctx, "image list is empty", slog.String("file", opts.list))
	}

	failures := transfer.NewFailureTracker()
	runner := &transfer.Runner{
		Action:    action,
		Workers:   opts.workers,
		Platforms: opts.platforms,
		Failures:  failures,
	}
	if opts.signKey != "" {
		h, err := handler.NewFromFile(opts.signKey)
		if err != nil {
			return fmt.Errorf("could not load signing key: %w", err)
		}
		if action == transfer.ActionValidate {
			runner.Verifier = h
		} else {
			runner.Signer = h
		}
	}

	format, err := log.Format(cmd)
	if err != nil {
		return err
	}
	var progress *render.Progress
	if format == log.FormatText {
		progress = render.NewProgress(cmd.OutOrStdout())
		runner.Observer = progress
	}

	var report *transfer.Report
	err = endpoints(ctx, d, action, opts, func(ctx context.Context, src transfer.Source, dst transfer.Destination) error {
		runner.Source, runner.Destination = src, dst
		var err error
		report, err = runner.Run(ctx, specs)
		return err
	})
	if progress != nil {
		progress.Stop(ctx)
	}
	if err != nil {
		return err
	}

	if written, err := failures.WriteFile(opts.failed); err != nil {
		return fmt.Errorf("could not write failed images: %w", err)
	} else if written {
		logger.WarnContext(ctx, "failed images were written", slog.String("file", opts.failed), slog.Int("images", failures.Len()))
	}
	if err := summarize(cmd, format, d, report); err != nil {
		return err
	}
	return report.Err()
}

// endpoints opens the source and destination of d and calls work with them.
// Archives are written back after work even if some images failed.
func endpoints(ctx context.Context, d Description, action transfer.Action, opts options,
	work func(ctx context.Context, src transfer.Source, dst transfer.Destination) error,
) error {
	var resolver registry.Resolver
	if d.Source == EndpointRegistry || d.Destination == EndpointRegistry {
		var err error
		if resolver, err = hctx.FromContext(ctx).Resolver(); err != nil {
			return err
		}
	}

	switch {
	case d.Source == EndpointRegistry && d.Destination == EndpointRegistry:
		return work(ctx, transfer.NewRegistrySource(resolver), transfer.NewRegistryDestination(resolver))
	case d.Source == EndpointRegistry:
		if action == transfer.ActionTransfer && !d.Merge && opts.overwrite && archive.Exists(opts.archive.Path) {
			slog.InfoContext(ctx, "removing existing archive", slog.String("path", opts.archive.Path))
			if err := archive.Remove(opts.archive.Path); err != nil {
				return fmt.Errorf("could not remove existing archive: %w", err)
			}
		}
		return archive.WorkWithin(ctx, opts.archive, func(ctx context.Context, a archive.Archive) error {
			return work(ctx, transfer.NewRegistrySource(resolver), transfer.NewArchiveDestination(a))
		})
	default:
		return archive.WorkWithin(ctx, opts.archive, func(ctx context.Context, a archive.Archive) error {
			return work(ctx, transfer.NewArchiveSource(a), transfer.NewRegistryDestination(resolver))
		})
	}
}

func readOptions(cmd *cobra.Command, d Description, action transfer.Action) (options, error) {
	flags := cmd.Flags()
	cfg := hctx.FromContext(cmd.Context()).Configuration()
	var opts options

	list, err := file.Get(flags, hangarcmd.FileFlag)
	if err != nil {
		return opts, err
	}
	if err := list.Require(); err != nil {
		return opts, fmt.Errorf("invalid image list: %w", err)
	}
	opts.list = list.String()

	if opts.workers, err = flags.GetInt(hangarcmd.JobsFlag); err != nil {
		return opts, err
	}
	oses, err := flags.GetStringSlice(hangarcmd.OSFlag)
	if err != nil {
		return opts, err
	}
	arches, err := flags.GetStringSlice(hangarcmd.ArchFlag)
	if err != nil {
		return opts, err
	}
	if opts.timeout, err = flags.GetDuration(hangarcmd.TimeoutFlag); err != nil {
		return opts, err
	}
	if cfg != nil {
		if !flags.Changed(hangarcmd.JobsFlag) && cfg.Jobs != 0 {
			opts.workers = cfg.Jobs
		}
		if !flags.Changed(hangarcmd.OSFlag) && len(cfg.OS) > 0 {
			oses = cfg.OS
		}
		if !flags.Changed(hangarcmd.ArchFlag) && len(cfg.Arch) > 0 {
			arches = cfg.Arch
		}
		if !flags.Changed(hangarcmd.TimeoutFlag) && cfg.Timeout != 0 {
			opts.timeout = time.Duration(cfg.Timeout)
		}
	}
	if opts.timeout <= 0 {
		return opts, fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}
	opts.platforms = imagelist.Platforms(oses, arches)
	if opts.failed, err = flags.GetString(hangarcmd.FailedFlag); err != nil {
		return opts, err
	}

	source, _ := flags.GetString(hangarcmd.SourceFlag)
	destination, _ := flags.GetString(hangarcmd.DestinationFlag)

	switch d.Source {
	case EndpointRegistry:
		opts.parse.SourceRegistry = source
	case EndpointArchive:
		opts.parse.SourceRegistry, _ = flags.GetString(hangarcmd.SourceRegistryFlag)
		opts.archive = archive.OpenOptions{Path: source, Flag: archive.O_RDONLY}
		if !archive.Exists(source) {
			return opts, fmt.Errorf("archive %q does not exist", source)
		}
	}

	switch d.Destination {
	case EndpointRegistry:
		opts.parse.DestinationRegistry = destination
		opts.parse.RequireDestination = true
		if d.ProjectFlag != "" {
			opts.parse.DestinationProject, _ = flags.GetString(d.ProjectFlag)
		}
		opts.signKey, _ = flags.GetString(hangarcmd.SignKeyFlag)
	case EndpointArchive:
		if opts.archive, err = destinationArchive(cmd, d, action, destination); err != nil {
			return opts, err
		}
		opts.overwrite, _ = flags.GetBool(hangarcmd.AutoYesFlag)
	}
	opts.archive.TempDir = hctx.FromContext(cmd.Context()).TempDir()

	if d.Policy {
		opts.parse.Policy.IncludeProvenance, _ = flags.GetBool(hangarcmd.ProvenanceFlag)
		opts.parse.Policy.RemoveSignatures, _ = flags.GetBool(hangarcmd.RemoveSignaturesFlag)
	}
	return opts, nil
}

// destinationArchive returns how the archive written by a command of d is opened.
func destinationArchive(cmd *cobra.Command, d Description, action transfer.Action, path string) (archive.OpenOptions, error) {
	flags := cmd.Flags()
	if action == transfer.ActionValidate {
		if !archive.Exists(path) {
			return archive.OpenOptions{}, fmt.Errorf("archive %q does not exist", path)
		}
		return archive.OpenOptions{Path: path, Flag: archive.O_RDONLY}, nil
	}

	opts := archive.OpenOptions{Path: path, Flag: archive.O_RDWR}
	if split, _ := flags.GetBool(hangarcmd.PartFlag); split {
		partSize, err := size.Get(flags, hangarcmd.PartSizeFlag)
		if err != nil {
			return opts, err
		}
		opts.PartSize = partSize
	}

	if d.Merge {
		if !archive.Exists(path) {
			return opts, fmt.Errorf("archive %q does not exist, use save to create it", path)
		}
		if fi, err := os.Stat(path); err == nil && fi.IsDir() && opts.PartSize > 0 {
			return opts, fmt.Errorf("directory archive %q cannot be split into parts", path)
		}
		return opts, nil
	}

	opts.Flag |= archive.O_CREATE
	format, err := saveFormat(cmd, path)
	if err != nil {
		return opts, err
	}
	if format == archive.FormatDirectory && opts.PartSize > 0 {
		return opts, fmt.Errorf("--%s cannot be combined with directory archives", hangarcmd.PartFlag)
	}
	opts.Format = format
	if opts.Path == "" {
		opts.Path = archive.DefaultName(format)
	}
	if overwrite, _ := flags.GetBool(hangarcmd.AutoYesFlag); !overwrite && archive.Exists(opts.Path) {
		return opts, fmt.Errorf("archive %q already exists, use --%s to overwrite it or sync to add to it", opts.Path, hangarcmd.AutoYesFlag)
	}
	return opts, nil
}

// saveFormat prefers an explicit compress flag over the extension of path.
func saveFormat(cmd *cobra.Command, path string) (archive.FileFormat, error) {
	compress, err := enum.Get(cmd.Flags(), hangarcmd.CompressFlag)
	if err != nil {
		return archive.FormatUnknown, err
	}
	var format archive.FileFormat
	switch compress {
	case CompressZstd:
		format = archive.FormatTZST
	case CompressDirectory:
		format = archive.FormatDirectory
	default:
		format = archive.FormatTGZ
	}
	if path == "" || cmd.Flags().Changed(hangarcmd.CompressFlag) {
		return format, nil
	}
	detected, err := archive.DetectFormat(path)
	if err != nil {
		return archive.FormatUnknown, err
	}
	if detected.IsTAR() {
		return detected, nil
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return archive.FormatDirectory, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return archive.FormatUnknown, err
	}
	return format, nil
}
