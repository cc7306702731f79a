package hooks

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/registry"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	"ocm.software/open-component-model/hangar/cli/cmd/setup"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
	"ocm.software/open-component-model/hangar/cli/internal/flags/log"
)

// Option is the single interface all options implement.
type Option interface {
	Apply(b *Builder) error
}

// optionFunc lets simple functions satisfy Option.
type optionFunc func(*Builder) error

func (f optionFunc) Apply(b *Builder) error { return f(b) }

// Builder accumulates the state the setup layer applies.
type Builder struct {
	cmd *cobra.Command

	tempFolder string
	resolver   registry.Resolver
}

// WithTempFolder configures the folder TAR based archives are extracted into.
func WithTempFolder(value string) Option {
	return optionFunc(func(b *Builder) error {
		b.tempFolder = value
		return nil
	})
}

// WithResolver replaces the registry session with resolver.
func WithResolver(resolver registry.Resolver) Option {
	return optionFunc(func(b *Builder) error {
		if resolver == nil {
			return fmt.Errorf("resolver must not be nil")
		}
		b.resolver = resolver
		return nil
	})
}

// PreRunE sets up the command with defaults (no extra options).
func PreRunE(cmd *cobra.Command, _ []string) error {
	return PreRunEWithOptions(cmd, nil)
}

// PreRunEWithOptions applies options, then overrides with CLI flags.
func PreRunEWithOptions(cmd *cobra.Command, _ []string, opts ...Option) error {
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)

	hctx.Register(cmd)
	if err := setup.Config(cmd); err != nil {
		return err
	}

	b := &Builder{cmd: cmd}
	for _, opt := range opts {
		if err := opt.Apply(b); err != nil {
			return fmt.Errorf("apply option: %w", err)
		}
	}

	// CLI flags take precedence over options
	if flag := cmd.Flags().Lookup(hangarcmd.TempFolderFlag); flag != nil && flag.Changed {
		if v, err := cmd.Flags().GetString(hangarcmd.TempFolderFlag); err == nil && v != "" {
			b.tempFolder = v
		} else if err != nil {
			slog.DebugContext(cmd.Context(), "could not read temp folder flag value", slog.String("error", err.Error()))
		}
	}
	setup.TempDir(cmd, b.tempFolder)

	if b.resolver != nil {
		cmd.SetContext(hctx.WithResolver(cmd.Context(), b.resolver))
	}
	if err := setup.Session(cmd); err != nil {
		return fmt.Errorf("could not setup registry session: %w", err)
	}

	// inherit IO from parent if exists
	if parent := cmd.Parent(); parent != nil {
		cmd.SetOut(parent.OutOrStdout())
		cmd.SetErr(parent.ErrOrStderr())
	}

	return nil
}
