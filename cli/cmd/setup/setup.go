package setup

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/registry"
	"ocm.software/open-component-model/hangar/cli/cmd/configuration"
	hangarcmd "ocm.software/open-component-model/hangar/cli/cmd/internal/cmd"
	v1 "ocm.software/open-component-model/hangar/cli/configuration/v1"
	hctx "ocm.software/open-component-model/hangar/cli/internal/context"
)

// Config loads the configuration file into the context of cmd.
// An explicitly given file that cannot be loaded is an error.
func Config(cmd *cobra.Command) error {
	cfg, err := configuration.GetConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	if cfg == nil {
		cfg = &v1.Config{}
	}
	cmd.SetContext(hctx.WithConfiguration(cmd.Context(), cfg))
	return nil
}

// TempDir stores folder, or the configured temporary directory if folder is empty, in the context of cmd.
func TempDir(cmd *cobra.Command, folder string) {
	if folder == "" {
		folder = hctx.FromContext(cmd.Context()).Configuration().TempDir
	}
	if folder != "" {
		slog.DebugContext(cmd.Context(), "using custom temporary folder", slog.String("path", folder))
	}
	cmd.SetContext(hctx.WithTempDir(cmd.Context(), folder))
}

// Session prepares the registry session of cmd. The session is created on first use.
// A resolver that is already present in the context is kept.
func Session(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if hctx.FromContext(ctx).HasResolver() {
		slog.DebugContext(ctx, "registry resolver already configured, skipping session setup")
		return nil
	}
	cfg := hctx.FromContext(ctx).Configuration()

	tlsVerify := true
	if cfg.TLSVerify != nil {
		tlsVerify = *cfg.TLSVerify
	}
	if flag := cmd.Flags().Lookup(hangarcmd.TLSVerifyFlag); flag != nil && flag.Changed {
		v, err := cmd.Flags().GetBool(hangarcmd.TLSVerifyFlag)
		if err != nil {
			return err
		}
		tlsVerify = v
	}
	plainHTTP, _ := cmd.Flags().GetBool(hangarcmd.PlainHTTPFlag)
	dockerConfig := cfg.DockerConfig
	if v, _ := cmd.Flags().GetString(hangarcmd.DockerConfigFlag); v != "" {
		dockerConfig = v
	}

	opts := []registry.Option{
		registry.WithInsecureSkipTLSVerify(!tlsVerify),
		registry.WithPlainHTTP(plainHTTP),
		registry.WithDockerConfigFile(dockerConfig),
	}
	ctx = hctx.WithResolverFunc(ctx, func() (registry.Resolver, error) {
		session, err := registry.NewSession(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("could not create registry session: %w", err)
		}
		return session, nil
	})
	cmd.SetContext(ctx)
	return nil
}
