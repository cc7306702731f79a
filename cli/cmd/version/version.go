package version

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/internal/flags/enum"
	"ocm.software/open-component-model/hangar/cli/internal/render"
)

const (
	FormatText        = "text"
	FormatJSON        = "json"
	FormatGoBuildInfo = "gobuildinfo"
)

// BuildVersion overrides the module version detected from the go build information.
// It is set at build time with
//
//	-ldflags "-X ocm.software/open-component-model/hangar/cli/cmd/version.BuildVersion=1.2.3"
var BuildVersion = "n/a"

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the build version of hangar",
		Long: fmt.Sprintf(`Show the build version of hangar.

%[1]q prints the version with the commit and go toolchain it was built from, %[2]q prints the same
information as JSON and %[3]q prints the complete go build information.`, FormatText, FormatJSON, FormatGoBuildInfo),
		Example: fmt.Sprintf(`hangar version --%s %s`, hangarcmd.FormatFlag, FormatJSON),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := enum.Get(cmd.Flags(), hangarcmd.FormatFlag)
			if err != nil {
				return err
			}
			bi, ok := debug.ReadBuildInfo()
			if !ok {
				return fmt.Errorf("no build info available")
			}
			if BuildVersion != "n/a" {
				bi.Main.Version = BuildVersion
			}
			return write(cmd.OutOrStdout(), format, bi)
		},
		DisableAutoGenTag: true,
	}
	enum.Var(cmd.Flags(), hangarcmd.FormatFlag, []string{FormatText, FormatJSON, FormatGoBuildInfo}, "output format")
	return cmd
}

func write(w io.Writer, format string, bi *debug.BuildInfo) error {
	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(GetInfo(bi))
	case FormatGoBuildInfo:
		_, err := io.Copy(w, strings.NewReader(bi.String()))
		return err
	default:
		info := GetInfo(bi)
		t := render.NewTable(w)
		t.AppendRows([]table.Row{
			{"Version", info.Version},
			{"Git commit", info.GitCommit},
			{"Build date", info.BuildDate},
			{"Modified", strconv.FormatBool(info.Modified)},
			{"Go version", info.GoVersion},
			{"Platform", info.Platform},
		})
		t.Render()
		return nil
	}
}
