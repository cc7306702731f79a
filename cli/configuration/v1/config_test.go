package v1_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "ocm.software/open-component-model/hangar/cli/configuration/v1"
)

func TestDecode(t *testing.T) {
	r := require.New(t)
	cfg, err := v1.Decode(strings.NewReader(`
jobs: 4
os: [linux]
arch: [amd64, arm64]
tlsVerify: false
dockerConfig: ~/.docker/config.json
timeout: 30m
`))
	r.NoError(err)
	r.Equal(4, cfg.Jobs)
	r.Equal([]string{"linux"}, cfg.OS)
	r.Equal([]string{"amd64", "arm64"}, cfg.Arch)
	r.NotNil(cfg.TLSVerify)
	r.False(*cfg.TLSVerify)
	r.Equal("~/.docker/config.json", cfg.DockerConfig)
	r.Equal(30*time.Minute, time.Duration(cfg.Timeout))
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name, input, errText string
	}{
		{name: "unknown field", input: "workers: 3", errText: "unknown field"},
		{name: "negative jobs", input: "jobs: -1", errText: "jobs must not be negative"},
		{name: "invalid timeout", input: "timeout: soon", errText: "invalid duration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			_, err := v1.Decode(strings.NewReader(tc.input))
			r.ErrorContains(err, tc.errText)
		})
	}
}

func TestMerge(t *testing.T) {
	r := require.New(t)
	verify := true
	merged := v1.Merge(
		&v1.Config{Jobs: 2, OS: []string{"linux"}, TempDir: "/tmp/a"},
		nil,
		&v1.Config{Jobs: 8, TLSVerify: &verify},
	)
	r.Equal(8, merged.Jobs)
	r.Equal([]string{"linux"}, merged.OS)
	r.Equal("/tmp/a", merged.TempDir)
	r.True(*merged.TLSVerify)
	r.Empty(merged.Arch)
}
