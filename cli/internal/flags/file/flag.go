// Package file provides a flag for paths of files that are read by a command,
// such as image lists and signing keys.
package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/pflag"
)

const Type = "path"

// Flag holds a path. The path is checked when the flag is set.
type Flag struct {
	path string
	info fs.FileInfo
}

func (f *Flag) String() string {
	return f.path
}

func (f *Flag) Type() string {
	return Type
}

func (f *Flag) Set(s string) error {
	f.path, f.info = s, nil
	if s == "" {
		return nil
	}
	info, err := os.Stat(s)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to stat path %q: %w", s, err)
	}
	f.info = info
	return nil
}

// IsSet reports whether a path was given.
func (f *Flag) IsSet() bool {
	return f.path != ""
}

func (f *Flag) Exists() bool {
	return f.info != nil
}

func (f *Flag) IsDir() bool {
	return f.info != nil && f.info.IsDir()
}

// Require returns an error unless the path names an existing regular file.
func (f *Flag) Require() error {
	switch {
	case f.path == "":
		return errors.New("no file given")
	case !f.Exists():
		return fmt.Errorf("file %q does not exist", f.path)
	case !f.info.Mode().IsRegular():
		return fmt.Errorf("%q is not a regular file", f.path)
	}
	return nil
}

func (f *Flag) Open() (io.ReadCloser, error) {
	if err := f.Require(); err != nil {
		return nil, err
	}
	return os.Open(f.path)
}

func Var(f *pflag.FlagSet, name string, value string, usage string) {
	VarP(f, name, "", value, usage)
}

func VarP(f *pflag.FlagSet, name, shorthand string, value string, usage string) {
	flag := &Flag{}
	_ = flag.Set(value)
	f.VarP(flag, name, shorthand, usage)
}

func Get(f *pflag.FlagSet, name string) (*Flag, error) {
	flag := f.Lookup(name)
	if flag == nil {
		return nil, fmt.Errorf("flag accessed but not defined: %s", name)
	}
	val, ok := flag.Value.(*Flag)
	if !ok {
		return nil, fmt.Errorf("trying to get %s value of flag of type %s", Type, flag.Value.Type())
	}
	return val, nil
}
