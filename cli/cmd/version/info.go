package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Info describes the build of the binary.
type Info struct {
	Version    string `json:"version"`
	Major      uint64 `json:"major"`
	Minor      uint64 `json:"minor"`
	Patch      uint64 `json:"patch"`
	PreRelease string `json:"prerelease,omitempty"`
	Meta       string `json:"meta,omitempty"`
	GitCommit  string `json:"gitCommit,omitempty"`
	BuildDate  string `json:"buildDate,omitempty"`
	Modified   bool   `json:"modified,omitempty"`
	GoVersion  string `json:"goVersion"`
	Compiler   string `json:"compiler"`
	Platform   string `json:"platform"`
}

// GetInfo derives Info from the go build information.
// VCS settings embedded by the go toolchain take precedence over the commit and date encoded in a
// pseudo version such as v0.0.0-20240102030405-abcdef123456.
func GetInfo(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   bi.Main.Version,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if v, err := semver.NewVersion(bi.Main.Version); err == nil {
		info.Version = "v" + v.String()
		info.Major, info.Minor, info.Patch = v.Major(), v.Minor(), v.Patch()
		info.PreRelease = v.Prerelease()
		info.Meta = v.Metadata()
		if fields := strings.Split(info.PreRelease, "-"); len(fields) >= 2 {
			date := fields[len(fields)-2]
			if i := strings.LastIndex(date, "."); i >= 0 {
				date = date[i+1:]
			}
			info.BuildDate, info.GitCommit = date, fields[len(fields)-1]
		}
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.GitCommit = setting.Value
		case "vcs.time":
			info.BuildDate = setting.Value
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}
	return info
}
