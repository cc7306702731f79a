package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/cli/internal/flags/log"
)

func TestRegisterLoggingFlags(t *testing.T) {
	cmd := &cobra.Command{}
	log.RegisterLoggingFlags(cmd.PersistentFlags())

	assert.NotNil(t, cmd.PersistentFlags().Lookup(log.FormatFlagName))
	assert.NotNil(t, cmd.PersistentFlags().Lookup(log.LevelFlagName))
	assert.NotNil(t, cmd.PersistentFlags().Lookup(log.OutputFlagName))
	assert.Equal(t, log.FormatText, cmd.PersistentFlags().Lookup(log.FormatFlagName).DefValue)
	assert.Equal(t, log.LevelInfo, cmd.PersistentFlags().Lookup(log.LevelFlagName).DefValue)
}

func TestGetBaseLogger(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		level      string
		output     string
		wantStdout bool
		debug      bool
	}{
		{name: "json debug to stdout", format: log.FormatJSON, level: log.LevelDebug, output: log.OutputStdout, wantStdout: true, debug: true},
		{name: "text info to stderr", format: log.FormatText, level: log.LevelInfo, output: log.OutputStderr},
		{name: "text error to stdout", format: log.FormatText, level: log.LevelError, output: log.OutputStdout, wantStdout: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			var stdout, stderr bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)
			log.RegisterLoggingFlags(cmd.Flags())
			r.NoError(cmd.Flags().Set(log.FormatFlagName, tt.format))
			r.NoError(cmd.Flags().Set(log.LevelFlagName, tt.level))
			r.NoError(cmd.Flags().Set(log.OutputFlagName, tt.output))

			logger, err := log.GetBaseLogger(cmd)
			r.NoError(err)
			r.Equal(tt.debug, logger.Enabled(context.Background(), slog.LevelDebug))

			logger.Error("boom")
			if tt.wantStdout {
				r.NotEmpty(stdout.String())
				r.Empty(stderr.String())
			} else {
				r.Empty(stdout.String())
				r.NotEmpty(stderr.String())
			}
			if tt.format == log.FormatJSON {
				var record map[string]any
				r.NoError(json.Unmarshal(stdout.Bytes(), &record))
				r.Equal("boom", record["msg"])
			}
		})
	}
}

func TestGetBaseLogger_InvalidFlag(t *testing.T) {
	r := require.New(t)
	cmd := &cobra.Command{}
	log.RegisterLoggingFlags(cmd.Flags())
	r.Error(cmd.Flags().Set(log.LevelFlagName, "trace"))

	_, err := log.NewHandler(&bytes.Buffer{}, "xml", slog.LevelInfo)
	r.ErrorContains(err, "invalid log format")
}
