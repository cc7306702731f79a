package imagelist

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrAmbiguousReference is returned when no platform is left to copy for a reference.
var ErrAmbiguousReference = errors.New("no platform matches the reference")

// knownOS are the operating systems a list field is recognized as platform constraint for.
var knownOS = []string{
	"aix", "android", "darwin", "dragonfly", "freebsd", "illumos", "ios", "js",
	"linux", "netbsd", "openbsd", "plan9", "solaris", "wasip1", "windows",
}

// Platform identifies the platform of an image manifest. Empty fields match any value.
type Platform struct {
	OS           string `json:"os,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Variant      string `json:"variant,omitempty"`
}

// ParsePlatform parses os/arch[/variant].
func ParsePlatform(s string) (Platform, error) {
	fields := strings.Split(s, "/")
	if len(fields) < 2 || len(fields) > 3 || slices.Contains(fields, "") {
		return Platform{}, fmt.Errorf("invalid platform %q, expected os/arch[/variant]", s)
	}
	p := Platform{OS: fields[0], Architecture: fields[1]}
	if len(fields) == 3 {
		p.Variant = fields[2]
	}
	return p, nil
}

// isPlatform reports whether a list field is a platform constraint rather than a reference.
func isPlatform(field string) bool {
	if strings.ContainsAny(field, ".:@") {
		return false
	}
	p, err := ParsePlatform(field)
	return err == nil && slices.Contains(knownOS, p.OS)
}

func (p Platform) String() string {
	s := p.OS + "/" + p.Architecture
	if p.Variant != "" {
		s += "/" + p.Variant
	}
	return s
}

// Matches reports whether p selects other. Empty fields of p match anything.
func (p Platform) Matches(other Platform) bool {
	return matchField(p.OS, other.OS) &&
		matchField(p.Architecture, other.Architecture) &&
		matchField(p.Variant, other.Variant)
}

func matchField(want, got string) bool {
	return want == "" || want == got
}

// Platforms builds the cross product of operating systems and architectures.
// Empty lists match any value.
func Platforms(oses, arches []string) []Platform {
	if len(oses) == 0 {
		oses = []string{""}
	}
	if len(arches) == 0 {
		arches = []string{""}
	}
	var platforms []Platform
	for _, os := range oses {
		for _, arch := range arches {
			if os == "" && arch == "" {
				continue
			}
			platforms = append(platforms, Platform{OS: os, Architecture: arch})
		}
	}
	return platforms
}

// MatchAny reports whether any of filters selects p. An empty filter list selects everything.
func MatchAny(filters []Platform, p Platform) bool {
	if len(filters) == 0 {
		return true
	}
	return slices.ContainsFunc(filters, func(f Platform) bool { return f.Matches(p) })
}
