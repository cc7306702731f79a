package file_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/cli/internal/flags/file"
)

func TestFlag_Require(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "images.txt")
	require.NoError(t, os.WriteFile(regular, []byte("nginx:1.25\n"), 0o600))

	tests := []struct {
		name    string
		path    string
		exists  bool
		errText string
	}{
		{name: "regular file", path: regular, exists: true},
		{name: "missing file", path: filepath.Join(dir, "missing.txt"), errText: "does not exist"},
		{name: "directory", path: dir, exists: true, errText: "not a regular file"},
		{name: "empty", path: "", errText: "no file given"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			flag := &file.Flag{}
			r.NoError(flag.Set(tt.path))
			r.Equal(tt.path, flag.String())
			r.Equal(tt.exists, flag.Exists())
			r.Equal(tt.path != "", flag.IsSet())
			if tt.errText == "" {
				r.NoError(flag.Require())
			} else {
				r.ErrorContains(flag.Require(), tt.errText)
			}
		})
	}
}

func TestFlag_Open(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "key.pem")
	r.NoError(os.WriteFile(path, []byte("content"), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	file.VarP(fs, "file", "f", "", "usage")
	r.NoError(fs.Parse([]string{"-f", path}))

	flag, err := file.Get(fs, "file")
	r.NoError(err)
	rc, err := flag.Open()
	r.NoError(err)
	t.Cleanup(func() { r.NoError(rc.Close()) })
	data, err := io.ReadAll(rc)
	r.NoError(err)
	r.Equal("content", string(data))

	fs.String("plain", "", "")
	_, err = file.Get(fs, "plain")
	r.Error(err)
}
