// Package imagelist parses image list files into transfer specifications.
//
// A list contains one image per line in one of three formats, optionally followed by
// platform constraints:
//
//	[REGISTRY/][PROJECT/]NAME[:TAG|@DIGEST] [os/arch[/variant] ...]
//	SOURCE DESTINATION [os/arch[/variant] ...]
//	SOURCE_REPOSITORY DESTINATION_REPOSITORY TAG [os/arch[/variant] ...]
//
// Blank lines and lines starting with # or // are ignored.
package imagelist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

var ErrInvalidListEntry = errors.New("invalid image list entry")

// InvalidListEntryError describes an entry of a list that cannot be parsed.
type InvalidListEntryError struct {
	Line int
	Text string
	Err  error
}

func (e *InvalidListEntryError) Error() string {
	return fmt.Sprintf("%s at line %d %q: %v", ErrInvalidListEntry, e.Line, e.Text, e.Err)
}

func (e *InvalidListEntryError) Unwrap() []error {
	return []error{ErrInvalidListEntry, e.Err}
}

// Format is the list format a TransferSpec was read from.
type Format int

const (
	// FormatDefault is a single reference. The destination is derived from it.
	FormatDefault Format = iota
	// FormatPair is a source and a destination reference.
	FormatPair
	// FormatMirror is a source and destination repository sharing one tag.
	FormatMirror
)

// Policy controls what is copied next to the image manifests.
type Policy struct {
	// RemoveSignatures skips signatures attached to the source image.
	RemoveSignatures bool
	// IncludeProvenance copies attestation manifests next to the platform manifests they describe.
	IncludeProvenance bool
}

// TransferSpec is one image to transfer.
type TransferSpec struct {
	// Source is the fully qualified source reference, e.g. docker.io/library/nginx:1.25.
	Source string
	// Destination is the fully qualified destination reference. It is empty if the list
	// was parsed without destination registry and the line does not name a destination.
	Destination string
	// Platforms restrict the platforms copied for this image in addition to the global filters.
	Platforms []Platform
	Policy    Policy
	Format    Format
	// Line is the 1-based line number of the entry.
	Line int
	// Raw is the trimmed text of the entry.
	Raw string
}

// String renders the entry in the list format it was read from.
func (s TransferSpec) String() string {
	if s.Raw != "" {
		return s.Raw
	}
	fields := []string{s.Source}
	if s.Format != FormatDefault && s.Destination != "" {
		fields = append(fields, s.Destination)
	}
	for _, p := range s.Platforms {
		fields = append(fields, p.String())
	}
	return strings.Join(fields, " ")
}

// Key identifies the entry within a run.
func (s TransferSpec) Key() string {
	return fmt.Sprintf("%d:%s=>%s", s.Line, s.Source, s.Destination)
}

// SelectPlatforms returns the platforms to copy for s given the global filters.
// Constraints of the line narrow the global filters. If they exclude each other,
// ErrAmbiguousReference is returned.
func (s TransferSpec) SelectPlatforms(global []Platform) ([]Platform, error) {
	if len(s.Platforms) == 0 {
		return global, nil
	}
	if len(global) == 0 {
		return s.Platforms, nil
	}
	var selected []Platform
	for _, p := range s.Platforms {
		if slices.ContainsFunc(global, func(g Platform) bool { return g.Matches(p) || p.Matches(g) }) {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: platforms of %q are excluded by the platform filters", ErrAmbiguousReference, s.String())
	}
	return selected, nil
}

// ParseOptions control how list entries are turned into TransferSpecs.
type ParseOptions struct {
	// SourceRegistry replaces or adds the registry of source references.
	SourceRegistry string
	// DestinationRegistry replaces or adds the registry of destination references.
	DestinationRegistry string
	// DestinationProject replaces the project of destinations derived from default format entries.
	DestinationProject string
	// Policy is applied to every spec.
	Policy Policy
	// RequireDestination fails entries whose destination cannot be determined.
	RequireDestination bool
}

// ParseFile parses the list at path.
func ParseFile(path string, opts ParseOptions) (_ []TransferSpec, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open image list: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	return Parse(file, opts)
}

// Parse reads a list from r. Any invalid entry fails the whole list with an *InvalidListEntryError.
func Parse(r io.Reader, opts ParseOptions) ([]TransferSpec, error) {
	var specs []TransferSpec
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if isComment(text) {
			continue
		}
		spec, err := parseLine(text, opts)
		if err != nil {
			return nil, &InvalidListEntryError{Line: line, Text: text, Err: err}
		}
		spec.Line, spec.Raw = line, text
		specs = append(specs, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read image list: %w", err)
	}
	return specs, nil
}

func isComment(text string) bool {
	return text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//")
}

// splitPlatforms separates trailing platform constraints from the reference fields of a line.
func splitPlatforms(text string) ([]string, []Platform, error) {
	fields := strings.Fields(text)
	end := len(fields)
	for end > 1 && isPlatform(fields[end-1]) {
		end--
	}
	var platforms []Platform
	for _, field := range fields[end:] {
		p, err := ParsePlatform(field)
		if err != nil {
			return nil, nil, err
		}
		platforms = append(platforms, p)
	}
	return fields[:end], platforms, nil
}

func parseLine(text string, opts ParseOptions) (TransferSpec, error) {
	fields, platforms, err := splitPlatforms(text)
	if err != nil {
		return TransferSpec{}, err
	}
	spec := TransferSpec{Platforms: platforms, Policy: opts.Policy}

	switch len(fields) {
	case 1:
		spec.Format = FormatDefault
		if spec.Source, err = Normalize(fields[0], opts.SourceRegistry); err != nil {
			return TransferSpec{}, err
		}
		if opts.DestinationRegistry == "" {
			if opts.RequireDestination {
				return TransferSpec{}, errors.New("a destination registry is required for entries without destination")
			}
			break
		}
		dest := fields[0]
		if opts.DestinationProject != "" {
			dest = ReplaceProjectName(ConstructRegistry(dest, ""), opts.DestinationProject)
		}
		if spec.Destination, err = Normalize(dest, opts.DestinationRegistry); err != nil {
			return TransferSpec{}, err
		}
	case 2:
		spec.Format = FormatPair
		if spec.Source, err = Normalize(fields[0], opts.SourceRegistry); err != nil {
			return TransferSpec{}, err
		}
		if spec.Destination, err = Normalize(fields[1], opts.DestinationRegistry); err != nil {
			return TransferSpec{}, err
		}
	case 3:
		spec.Format = FormatMirror
		tag := fields[2]
		if strings.ContainsAny(tag, "/:@") {
			return TransferSpec{}, fmt.Errorf("invalid tag %q in mirror format", tag)
		}
		for _, repo := range fields[:2] {
			if strings.ContainsAny(repo[strings.LastIndex(repo, "/")+1:], ":@") {
				return TransferSpec{}, fmt.Errorf("repository %q must not carry a tag in mirror format", repo)
			}
		}
		if spec.Source, err = Normalize(fields[0]+":"+tag, opts.SourceRegistry); err != nil {
			return TransferSpec{}, err
		}
		if spec.Destination, err = Normalize(fields[1]+":"+tag, opts.DestinationRegistry); err != nil {
			return TransferSpec{}, err
		}
	default:
		return TransferSpec{}, fmt.Errorf("expected 1 to 3 fields but got %d", len(fields))
	}
	return spec, nil
}
