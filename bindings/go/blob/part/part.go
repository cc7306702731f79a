// Package part splits a byte stream into a set of fixed size files and joins them back.
//
// A stream written with a part size of zero is stored as a single file <name>.
// Otherwise it is stored as <name>.part0 … <name>.partN where every part except the
// last one has exactly the part size. Concatenating the parts in index order yields the
// original stream.
package part

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// Suffix separates the base name from the index of a part.
	Suffix = ".part"
	// MaxParts is the maximum number of parts a stream can be split into.
	MaxParts = 0xFFFF
)

var (
	ErrTooManyParts    = fmt.Errorf("stream exceeds the maximum of %d parts", MaxParts)
	ErrInvalidPartSize = errors.New("part size must not be negative")
)

// FileName returns the file name of the part with the given index.
func FileName(name string, index int) string {
	return name + Suffix + strconv.Itoa(index)
}

// BaseName strips a part suffix from path. It reports false if path does not name a part.
func BaseName(path string) (string, bool) {
	i := strings.LastIndex(path, Suffix)
	if i < 0 {
		return path, false
	}
	if _, err := strconv.Atoi(path[i+len(Suffix):]); err != nil {
		return path, false
	}
	return path[:i], true
}

// Files returns the files that make up the stream called name in read order.
// A regular file called name takes precedence over a part set.
// If neither exists, the returned error wraps fs.ErrNotExist.
func Files(name string) ([]string, error) {
	if fi, err := os.Stat(name); err == nil {
		if fi.IsDir() {
			return nil, fmt.Errorf("%s is a directory", name)
		}
		return []string{name}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var files []string
	for i := 0; i < MaxParts; i++ {
		file := FileName(name, i)
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			break
		} else if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("neither %s nor %s found: %w", name, FileName(name, 0), fs.ErrNotExist)
	}
	return files, nil
}

// Exists reports whether a single file or a part set called name exists.
func Exists(name string) bool {
	_, err := Files(name)
	return err == nil
}

// Size returns the total size of the stream called name.
func Size(name string) (int64, error) {
	files, err := Files(name)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, file := range files {
		fi, err := os.Stat(file)
		if err != nil {
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}

// Remove deletes the single file or every part of the stream called name.
func Remove(name string) error {
	files, err := Files(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, file := range files {
		errs = append(errs, os.Remove(file))
	}
	return errors.Join(errs...)
}

// Open returns a reader over the stream called name.
// Parts are opened one at a time while reading.
func Open(name string) (io.ReadCloser, error) {
	files, err := Files(name)
	if err != nil {
		return nil, err
	}
	return &reader{files: files}, nil
}

type reader struct {
	files   []string
	current *os.File
}

func (r *reader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if len(r.files) == 0 {
				return 0, io.EOF
			}
			f, err := os.Open(r.files[0])
			if err != nil {
				return 0, fmt.Errorf("unable to open part %s: %w", filepath.Base(r.files[0]), err)
			}
			r.current, r.files = f, r.files[1:]
		}
		n, err := r.current.Read(p)
		if errors.Is(err, io.EOF) {
			err = r.current.Close()
			r.current = nil
			if err != nil {
				return n, err
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *reader) Close() error {
	r.files = nil
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}
