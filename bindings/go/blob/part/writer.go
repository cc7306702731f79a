package part

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Writer writes a stream as a single file or a part set.
// It must be closed to flush the current part and to clean up leftovers of a
// previous stream with the same name.
type Writer struct {
	name     string
	partSize int64

	current *os.File
	written int64
	files   []string
	closed  bool
}

// NewWriter creates a Writer for name. A partSize of zero writes a single file.
func NewWriter(name string, partSize int64) (*Writer, error) {
	if partSize < 0 {
		return nil, ErrInvalidPartSize
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create directory for %s: %w", name, err)
	}
	return &Writer{name: name, partSize: partSize}, nil
}

func (w *Writer) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	for len(p) > 0 {
		if w.current == nil || (w.partSize > 0 && w.written == w.partSize) {
			if err := w.next(); err != nil {
				return n, err
			}
		}
		chunk := p
		if w.partSize > 0 {
			if remaining := w.partSize - w.written; int64(len(chunk)) > remaining {
				chunk = chunk[:remaining]
			}
		}
		m, err := w.current.Write(chunk)
		n += m
		w.written += int64(m)
		if err != nil {
			return n, err
		}
		p = p[m:]
	}
	return n, nil
}

func (w *Writer) next() error {
	if w.current != nil {
		if err := w.current.Close(); err != nil {
			return err
		}
		w.current = nil
	}
	var file string
	if w.partSize == 0 {
		file = w.name
	} else {
		if len(w.files) == MaxParts {
			return ErrTooManyParts
		}
		file = FileName(w.name, len(w.files))
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", file, err)
	}
	w.current, w.written = f, 0
	w.files = append(w.files, file)
	return nil
}

// Close finishes the stream. An empty stream still produces one (empty) file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.current == nil && len(w.files) == 0 {
		errs = append(errs, w.next())
	}
	if w.current != nil {
		errs = append(errs, w.current.Close())
		w.current = nil
	}
	errs = append(errs, w.removeStale())
	return errors.Join(errs...)
}

// removeStale deletes files of an earlier stream with the same name that would
// otherwise be picked up when reading the new one.
func (w *Writer) removeStale() error {
	var errs []error
	if w.partSize > 0 {
		if fi, err := os.Stat(w.name); err == nil && !fi.IsDir() {
			errs = append(errs, os.Remove(w.name))
		}
	}
	start := len(w.files)
	if w.partSize == 0 {
		start = 0
	}
	for i := start; i < MaxParts; i++ {
		err := os.Remove(FileName(w.name, i))
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Files returns the files written so far.
func (w *Writer) Files() []string {
	return append([]string(nil), w.files...)
}
