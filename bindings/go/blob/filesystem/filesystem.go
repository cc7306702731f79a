package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var ErrReadOnly = errors.New("read only file system")

// FileSystem is the set of operations the archive store needs from a directory tree.
// RootFileSystem is the implementation backed by the os package.
type FileSystem interface {
	fs.FS
	fs.StatFS
	fs.ReadDirFS

	OpenFileFS
	MkdirAllFS
	RemoveFS
	RemoveAllFS
	RenameFS
	ReadOnlyFS

	// Base returns the absolute path of the root of the file system.
	Base() string
}

// OpenFileFS is a filesystem that supports opening files with a specific flag and permission bitmask
type OpenFileFS interface {
	OpenFile(name string, flag int, perm os.FileMode) (fs.File, error)
}

type RemoveFS interface {
	Remove(name string) error
}

type RemoveAllFS interface {
	RemoveAll(path string) error
}

type MkdirAllFS interface {
	MkdirAll(name string, perm os.FileMode) error
}

// RenameFS is a filesystem that can atomically move a file within its root.
type RenameFS interface {
	Rename(oldname, newname string) error
}

type ReadOnlyFS interface {
	// ReadOnly returns true if the filesystem is read only.
	ReadOnly() bool
	// ForceReadOnly sets the filesystem to read only mode, restricting all future operations.
	ForceReadOnly()
}

// NewFS opens base as a RootFileSystem.
// If base does not exist it is only created when flag contains os.O_CREATE.
func NewFS(base string, flag int) (*RootFileSystem, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path: %w", err)
	}
	fi, err := os.Stat(base)
	if errors.Is(err, fs.ErrNotExist) {
		if flag&os.O_CREATE == 0 {
			return nil, fmt.Errorf("path does not exist: %s: %w", base, err)
		}
		if err = os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create path: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("unable to stat path: %w", err)
	}
	if fi != nil && !fi.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", base)
	}
	r, err := os.OpenRoot(base)
	if err != nil {
		return nil, fmt.Errorf("unable to open root on base: %w", err)
	}
	return &RootFileSystem{root: r, base: base, flag: flag}, nil
}

// RootFileSystem confines all operations to a single directory tree through os.Root.
type RootFileSystem struct {
	root *os.Root
	base string

	flagMu sync.RWMutex
	// flag is the bitmask applied to limit fs operations with e.g. os.O_RDONLY
	flag int
}

var _ FileSystem = (*RootFileSystem)(nil)

func (s *RootFileSystem) Base() string {
	return s.base
}

func (s *RootFileSystem) String() string {
	return s.root.Name()
}

// Close releases the underlying root handle.
func (s *RootFileSystem) Close() error {
	return s.root.Close()
}

func (s *RootFileSystem) Remove(name string) error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	return s.root.Remove(name)
}

func (s *RootFileSystem) Rename(oldname, newname string) error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	return s.root.Rename(oldname, newname)
}

func (s *RootFileSystem) OpenFile(name string, flag int, perm os.FileMode) (fs.File, error) {
	if s.ReadOnly() && !isFlagReadOnly(flag) {
		return nil, ErrReadOnly
	}
	return s.root.OpenFile(name, flag, perm)
}

func (s *RootFileSystem) Open(name string) (fs.File, error) {
	return s.OpenFile(name, os.O_RDONLY, 0)
}

func (s *RootFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return s.root.FS().(fs.ReadDirFS).ReadDir(name)
}

func (s *RootFileSystem) MkdirAll(name string, perm os.FileMode) error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	return s.root.MkdirAll(name, perm)
}

func (s *RootFileSystem) RemoveAll(path string) error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	return s.root.RemoveAll(path)
}

func (s *RootFileSystem) Stat(name string) (fs.FileInfo, error) {
	return s.root.Stat(name)
}

func (s *RootFileSystem) ReadOnly() bool {
	s.flagMu.RLock()
	defer s.flagMu.RUnlock()
	return isFlagReadOnly(s.flag)
}

func (s *RootFileSystem) ForceReadOnly() {
	s.flagMu.Lock()
	defer s.flagMu.Unlock()
	s.flag = os.O_RDONLY
}

// isFlagReadOnly reports whether flag grants no write access.
// os.O_RDONLY is zero, so any flag without O_WRONLY or O_RDWR is read only.
func isFlagReadOnly(flag int) bool {
	return flag&os.O_WRONLY == 0 && flag&os.O_RDWR == 0
}
