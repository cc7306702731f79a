package configuration

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	v1 "ocm.software/open-component-model/hangar/cli/configuration/v1"
)

// Hangar configuration file and directory constants
const (
	HangarConfigDirectoryName   = "hangar"
	HangarConfigFileName        = "config.yaml"
	HangarConfigEnvironmentKey  = "HANGAR_CONFIG"
	HangarConfigCommandArgument = "config"
)

func RegisterConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(HangarConfigCommandArgument, "", `supply configuration by a given configuration file.
By default (without specifying custom locations with this flag), the file will be read from the well known locations:
1. The path specified in the HANGAR_CONFIG environment variable
2. $XDG_CONFIG_HOME/hangar/config.yaml
3. $HOME/.config/hangar/config.yaml
4. $HOME/.hangar/config.yaml
Values of earlier locations take precedence. A missing configuration is not an error.
Using the option, this configuration file is used instead of the lookup above.`)
}

// GetConfigForCommand returns the configuration given with the config flag of cmd,
// or the one found in the well known locations.
func GetConfigForCommand(cmd *cobra.Command) (*v1.Config, error) {
	path, _ := cmd.Flags().GetString(HangarConfigCommandArgument)
	if path != "" {
		return GetConfigFromPath(path)
	}
	return GetConfig()
}

// GetConfig loads and merges the configuration files found by GetConfigPaths.
// Files that cannot be decoded are skipped with an error log.
func GetConfig() (*v1.Config, error) {
	paths := GetConfigPaths()
	cfgs := make([]*v1.Config, 0, len(paths))
	for _, path := range paths {
		cfg, err := GetConfigFromPath(path)
		if err != nil {
			slog.Error("hangar config path was skipped due to an error loading it",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		slog.Debug("hangar config was loaded successfully", slog.String("path", path))
		cfgs = append(cfgs, cfg)
	}
	// earlier paths win
	slices.Reverse(cfgs)
	return v1.Merge(cfgs...), nil
}

// GetConfigFromPath reads and decodes the YAML configuration file at path.
func GetConfigFromPath(path string) (_ *v1.Config, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	return v1.Decode(file)
}

// GetConfigPaths returns the existing configuration files in the order of precedence:
//  1. $HANGAR_CONFIG
//  2. $XDG_CONFIG_HOME/hangar/config.yaml
//  3. $HOME/.config/hangar/config.yaml
//  4. $HOME/.hangar/config.yaml
func GetConfigPaths() []string {
	var candidates []string
	if env := os.Getenv(HangarConfigEnvironmentKey); env != "" {
		candidates = append(candidates, env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, HangarConfigDirectoryName, HangarConfigFileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", HangarConfigDirectoryName, HangarConfigFileName),
			filepath.Join(home, "."+HangarConfigDirectoryName, HangarConfigFileName),
		)
	}

	var paths []string
	for _, path := range candidates {
		if slices.Contains(paths, path) {
			continue
		}
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			paths = append(paths, path)
		}
	}
	return paths
}
