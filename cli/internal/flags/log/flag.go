// Package log provides the logging flags of the hangar CLI.
// Logs are written as text for humans or as JSON for machines, to stdout or stderr.
package log

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ocm.software/open-component-model/hangar/cli/internal/flags/enum"
)

const (
	FormatFlagName = "logformat"

	FormatText = "text"
	FormatJSON = "json"
)

const (
	LevelFlagName = "loglevel"

	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	OutputFlagName = "logoutput"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

var levels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// RegisterLoggingFlags registers FormatFlagName, LevelFlagName and OutputFlagName on flagset.
//
//	--logformat json --loglevel debug --logoutput stderr
func RegisterLoggingFlags(flagset *pflag.FlagSet) {
	enum.Var(flagset, FormatFlagName, []string{FormatText, FormatJSON}, `set the log output format
   text: human-readable logs, progress bars are shown for batch commands
   json: one JSON object per log record, suitable for machine processing`)

	enum.Var(flagset, LevelFlagName, []string{LevelInfo, LevelDebug, LevelWarn, LevelError}, `sets the logging level
   debug: include every copied blob and skipped layer
   info:  one record per image and a summary (default)
   warn:  warnings and errors only
   error: errors only`)

	enum.Var(flagset, OutputFlagName, []string{OutputStdout, OutputStderr}, `set the log output destination
   stdout: write logs to standard output (default)
   stderr: write logs to standard error, useful for separating logs from command output`)
}

// Format returns the log format selected on cmd.
func Format(cmd *cobra.Command) (string, error) {
	format, err := enum.Get(cmd.Flags(), FormatFlagName)
	if err != nil {
		return "", fmt.Errorf("failed to get the log format from the command flag: %w", err)
	}
	return format, nil
}

// GetBaseLogger creates the logger configured by the logging flags of cmd.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	format, err := Format(cmd)
	if err != nil {
		return nil, err
	}
	levelName, err := enum.Get(cmd.Flags(), LevelFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get log level: %w", err)
	}
	level, ok := levels[levelName]
	if !ok {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}
	output, err := enum.Get(cmd.Flags(), OutputFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get the log output from the command flag: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if output == OutputStderr {
		w = cmd.ErrOrStderr()
	}
	handler, err := NewHandler(w, format, level)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

// NewHandler returns a text or JSON handler writing records of at least level to w.
func NewHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	case FormatText:
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}
