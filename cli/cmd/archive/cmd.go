package archive

import (
	"github.com/spf13/cobra"
)

// New represents the commands that inspect and edit archives.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive {init|ls|merge|export|store}",
		Short: "Inspect and edit archives of images and files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(
		newInit(),
		newList(),
		newMerge(),
		newExport(),
		newStore(),
	)
	return cmd
}
