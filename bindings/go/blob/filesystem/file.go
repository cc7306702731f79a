package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"ocm.software/open-component-model/hangar/bindings/go/blob"
)

const DefaultFileIOBufferSize = 1 << 20 // 1 MiB

// ioBufPool is a pool of byte buffers that can be reused for copying content
// between i/o relevant data, such as files.
var ioBufPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, DefaultFileIOBufferSize)
		return &buffer
	},
}

// CopyBlobToOSPath copies the content of b to path, truncating any existing file.
// Parent directories are created as needed.
// Named pipes are written to without truncation.
func CopyBlobToOSPath(b blob.ReadOnlyBlob, path string) (err error) {
	data, err := b.ReadCloser()
	if err != nil {
		return fmt.Errorf("failed to read blob data: %w", err)
	}
	defer func() {
		err = errors.Join(err, data.Close())
	}()

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	var mode os.FileMode = 0o644
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeNamedPipe != 0 {
		flag, mode = os.O_WRONLY, os.ModeNamedPipe
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory of %s: %w", path, err)
	}

	file, err := os.OpenFile(path, flag, mode)
	if err != nil {
		return fmt.Errorf("failed to open target file %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	buf := ioBufPool.Get().(*[]byte)
	defer ioBufPool.Put(buf)
	if _, err := io.CopyBuffer(file, data, *buf); err != nil {
		return fmt.Errorf("failed to copy blob data to %s: %w", path, err)
	}

	return nil
}

// GetBlobFromOSPath returns a read-only blob for the file at path.
func GetBlobFromOSPath(path string) (*Blob, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("unable to access %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory and cannot be used as a file blob", path)
	}
	fsys, err := NewFS(filepath.Dir(path), os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem while trying to access %v: %w", path, err)
	}
	return NewFileBlob(fsys, filepath.Base(path)), nil
}
