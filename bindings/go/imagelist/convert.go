package imagelist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ConvertOptions control Convert.
type ConvertOptions struct {
	// SourceRegistry replaces or adds the registry of source repositories.
	SourceRegistry string
	// DestinationRegistry replaces or adds the registry of destination repositories.
	DestinationRegistry string
}

// Convert rewrites default format entries read from r into the mirror format and writes them to w.
// Comments, blank lines and entries that already name a destination are copied unchanged.
// Platform constraints are kept. Entries selected by digest cannot be expressed in the mirror
// format and fail the conversion with an *InvalidListEntryError.
func Convert(r io.Reader, w io.Writer, opts ConvertOptions) (converted int, err error) {
	scanner := bufio.NewScanner(r)
	out := bufio.NewWriter(w)
	defer func() {
		err = errors.Join(err, out.Flush())
	}()

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		result, ok, err := convertLine(text, opts)
		if err != nil {
			return converted, &InvalidListEntryError{Line: line, Text: text, Err: err}
		}
		if ok {
			converted++
		}
		if _, err := fmt.Fprintln(out, result); err != nil {
			return converted, err
		}
	}
	if err := scanner.Err(); err != nil {
		return converted, fmt.Errorf("unable to read image list: %w", err)
	}
	return converted, nil
}

func convertLine(text string, opts ConvertOptions) (string, bool, error) {
	if isComment(text) {
		return text, false, nil
	}
	fields, platforms, err := splitPlatforms(text)
	if err != nil {
		return "", false, err
	}
	if len(fields) != 1 {
		return text, false, nil
	}

	repository, tag := Split(fields[0])
	if strings.Contains(tag, ":") {
		return "", false, fmt.Errorf("digest reference %q cannot be converted to mirror format", fields[0])
	}
	source := repository
	if opts.SourceRegistry != "" {
		source = ConstructRegistry(repository, opts.SourceRegistry)
	}
	result := []string{source, ConstructRegistry(repository, opts.DestinationRegistry), tag}
	for _, p := range platforms {
		result = append(result, p.String())
	}
	return strings.Join(result, " "), true, nil
}
