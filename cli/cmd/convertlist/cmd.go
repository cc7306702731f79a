package convertlist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/internal/flags/file"
)

// ConvertedSuffix is appended to the input to name the output if no output is given.
const ConvertedSuffix = ".converted"

// New returns the convert-list command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert-list -i <image-list>",
		Short: "Convert an image list into the mirror format",
		Long: `Convert the single reference entries of an image list into the mirror format
"SOURCE_REPOSITORY DESTINATION_REPOSITORY TAG", keeping platform constraints.

Comments, blank lines and entries that already name a destination are copied unchanged.`,
		Example: `hangar convert-list -i images.txt -d registry.example.com
hangar convert-list -i images.txt -o mirror.txt -s docker.io -d registry.example.com`,
		Args:              cobra.NoArgs,
		RunE:              run,
		DisableAutoGenTag: true,
	}
	flags := cmd.Flags()
	file.VarP(flags, hangarcmd.InputFlag, "i", "", "image list to convert")
	_ = cmd.MarkFlagRequired(hangarcmd.InputFlag)
	flags.StringP(hangarcmd.OutputFlag, "o", "", "converted image list, defaults to the input with "+ConvertedSuffix+" appended")
	flags.StringP(hangarcmd.SourceFlag, "s", "", "registry of source repositories")
	flags.StringP(hangarcmd.DestinationFlag, "d", "", "registry of destination repositories")
	return cmd
}

func run(cmd *cobra.Command, _ []string) (err error) {
	flags := cmd.Flags()
	input, err := file.Get(flags, hangarcmd.InputFlag)
	if err != nil {
		return err
	}
	output, _ := flags.GetString(hangarcmd.OutputFlag)
	if output == "" {
		output = input.String() + ConvertedSuffix
	}
	opts := imagelist.ConvertOptions{}
	opts.SourceRegistry, _ = flags.GetString(hangarcmd.SourceFlag)
	opts.DestinationRegistry, _ = flags.GetString(hangarcmd.DestinationFlag)

	in, err := input.Open()
	if err != nil {
		return fmt.Errorf("invalid image list: %w", err)
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("could not create converted image list: %w", err)
	}
	converted, err := imagelist.Convert(in, out, opts)
	if err = errors.Join(err, out.Close()); err != nil {
		return errors.Join(err, os.Remove(output))
	}
	slog.InfoContext(cmd.Context(), "image list converted", slog.String("input", input.String()),
		slog.String("output", output), slog.Int("converted", converted))
	return nil
}
