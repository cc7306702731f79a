package batch

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/internal/flags/enum"
	"ocm.software/open-component-model/hangar/cli/internal/flags/file"
	"ocm.software/open-component-model/hangar/cli/internal/flags/size"
)

// Values of the compress flag.
const (
	CompressGzip      = "gzip"
	CompressZstd      = "zstd"
	CompressDirectory = "dir"
)

const defaultPartSize = 2 << 30

// New returns the command described by d with its validate subcommand.
func New(d Description) *cobra.Command {
	cmd := newCommand(d, transfer.ActionTransfer)
	cmd.AddCommand(newCommand(d, transfer.ActionValidate))
	return cmd
}

func newCommand(d Description, action transfer.Action) *cobra.Command {
	cmd := &cobra.Command{
		Use:     d.Name + " -f <image-list>",
		Short:   d.Short,
		Long:    d.Long,
		Example: d.Example,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, d, action)
		},
		DisableAutoGenTag: true,
	}
	if action == transfer.ActionValidate {
		cmd.Use = "validate -f <image-list>"
		cmd.Short = d.validateShort()
		cmd.Long = d.validateLong()
		cmd.Example = fmt.Sprintf("hangar %s validate -f images.txt", d.Name)
	}

	flags := cmd.Flags()
	file.VarP(flags, hangarcmd.FileFlag, "f", "", "image list file")
	_ = cmd.MarkFlagRequired(hangarcmd.FileFlag)
	flags.IntP(hangarcmd.JobsFlag, "j", 1, fmt.Sprintf("number of worker threads, clamped to [%d, %d]", transfer.MinWorkers, transfer.MaxWorkers))
	flags.StringSlice(hangarcmd.OSFlag, []string{"linux"}, "operating systems of the manifests copied out of manifest lists")
	flags.StringSlice(hangarcmd.ArchFlag, []string{"amd64", "arm64"}, "architectures of the manifests copied out of manifest lists")
	flags.StringP(hangarcmd.FailedFlag, "o", d.FailedList, "file the failed images are written to")
	flags.Duration(hangarcmd.TimeoutFlag, hangarcmd.TimeoutDefault, "maximum duration of the command")

	switch d.Source {
	case EndpointRegistry:
		flags.StringP(hangarcmd.SourceFlag, "s", "", "registry of images in the list that do not name a registry")
	case EndpointArchive:
		flags.StringP(hangarcmd.SourceFlag, "s", "", "archive the images are read from")
		_ = cmd.MarkFlagRequired(hangarcmd.SourceFlag)
		flags.String(hangarcmd.SourceRegistryFlag, "", "registry of images in the list that do not name a registry")
	}

	switch d.Destination {
	case EndpointRegistry:
		flags.StringP(hangarcmd.DestinationFlag, "d", "", "registry the images are written to")
		_ = cmd.MarkFlagRequired(hangarcmd.DestinationFlag)
		if d.ProjectFlag != "" {
			flags.String(d.ProjectFlag, "", "project (namespace) replacing the project of images without explicit destination")
		}
		flags.String(hangarcmd.SignKeyFlag, "", "RSA key (PEM) signing the destination manifests, or verifying them with validate")
	case EndpointArchive:
		usage := "archive the images are written to"
		if action == transfer.ActionValidate {
			usage = "archive the images are validated against"
		}
		flags.StringP(hangarcmd.DestinationFlag, "d", "", usage)
		if d.Merge || action == transfer.ActionValidate {
			_ = cmd.MarkFlagRequired(hangarcmd.DestinationFlag)
		}
		if action == transfer.ActionTransfer {
			if !d.Merge {
				enum.Var(flags, hangarcmd.CompressFlag, []string{CompressGzip, CompressZstd, CompressDirectory}, "format of the archive")
				flags.BoolP(hangarcmd.AutoYesFlag, "y", false, "overwrite an existing archive")
			}
			flags.Bool(hangarcmd.PartFlag, false, "split the archive into parts")
			size.PartSizeVar(flags, hangarcmd.PartSizeFlag, defaultPartSize, "size of the parts of a split archive")
		}
	}

	if d.Policy {
		flags.Bool(hangarcmd.ProvenanceFlag, false, "copy attestation manifests next to the platform manifests")
		flags.Bool(hangarcmd.RemoveSignaturesFlag, false, "do not copy signatures attached to the source images")
	}
	return cmd
}
