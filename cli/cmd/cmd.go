package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/cli/cmd/archive"
	"ocm.software/open-component-model/hangar/cli/cmd/batch"
	"ocm.software/open-component-model/hangar/cli/cmd/compress"
	"ocm.software/open-component-model/hangar/cli/cmd/configuration"
	"ocm.software/open-component-model/hangar/cli/cmd/convertlist"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/cmd/mergemanifest"
	"ocm.software/open-component-model/hangar/cli/cmd/setup/hooks"
	"ocm.software/open-component-model/hangar/cli/cmd/version"
	"ocm.software/open-component-model/hangar/cli/internal/flags/log"
)

// Execute runs the root command and exits non-zero on failure.
// This is called by main.main(). It only needs to happen once to the Cmd.
func Execute() {
	err := New().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hangar [sub-command]",
		Short: "Transfer container images between registries and archives",
		Long: `Hangar copies the images of an image list between registries and portable archives.

Images are saved from registries into archives, loaded from archives into registries or mirrored
between registries. Every transfer can be validated without copying, failed images are written
to a list that can be used to retry them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: hooks.PreRunE,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	configuration.RegisterConfigFlag(cmd)

	flags := cmd.PersistentFlags()
	flags.String(hangarcmd.TempFolderFlag, "", `Specify a custom temporary folder path TAR based archives are extracted into.`)
	flags.Bool(hangarcmd.TLSVerifyFlag, true, `Require valid TLS certificates when talking to registries.`)
	flags.Bool(hangarcmd.PlainHTTPFlag, false, `Talk to registries over plain HTTP.`)
	flags.String(hangarcmd.DockerConfigFlag, "", `Docker config file registry credentials are read from, defaults to the docker config of the user.`)
	log.RegisterLoggingFlags(flags)

	for _, d := range batch.Descriptions {
		cmd.AddCommand(batch.New(d))
	}
	cmd.AddCommand(archive.New())
	cmd.AddCommand(compress.New())
	cmd.AddCommand(compress.NewDecompress())
	cmd.AddCommand(convertlist.New())
	cmd.AddCommand(mergemanifest.New())
	cmd.AddCommand(version.New())
	return cmd
}
