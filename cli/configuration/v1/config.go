package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"sigs.k8s.io/yaml"
)

// Config holds the defaults loaded from a configuration file.
type Config struct {
	// Jobs is the number of workers used by batch commands.
	Jobs int `json:"jobs,omitempty"`
	// OS and Arch select the platforms copied out of manifest lists.
	OS   []string `json:"os,omitempty"`
	Arch []string `json:"arch,omitempty"`
	// TLSVerify is nil if the file does not mention it.
	TLSVerify *bool `json:"tlsVerify,omitempty"`
	// DockerConfig is the docker config file credentials are read from.
	DockerConfig string `json:"dockerConfig,omitempty"`
	// TempDir is the directory TAR based archives are extracted into.
	TempDir string   `json:"tempDir,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
}

// Decode reads a YAML configuration. Unknown fields are rejected.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg, yaml.DisallowUnknownFields); err != nil {
		return nil, fmt.Errorf("invalid hangar configuration: %w", err)
	}
	if cfg.Jobs < 0 {
		return nil, fmt.Errorf("invalid hangar configuration: jobs must not be negative, got %d", cfg.Jobs)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("invalid hangar configuration: timeout must not be negative, got %s", time.Duration(cfg.Timeout))
	}
	return &cfg, nil
}

// Merge combines configs into a new Config.
// Fields set in later configs override the ones of earlier configs.
func Merge(configs ...*Config) *Config {
	merged := new(Config)
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		if cfg.Jobs != 0 {
			merged.Jobs = cfg.Jobs
		}
		if len(cfg.OS) > 0 {
			merged.OS = cfg.OS
		}
		if len(cfg.Arch) > 0 {
			merged.Arch = cfg.Arch
		}
		if cfg.TLSVerify != nil {
			merged.TLSVerify = cfg.TLSVerify
		}
		if cfg.DockerConfig != "" {
			merged.DockerConfig = cfg.DockerConfig
		}
		if cfg.TempDir != "" {
			merged.TempDir = cfg.TempDir
		}
		if cfg.Timeout != 0 {
			merged.Timeout = cfg.Timeout
		}
	}
	return merged
}

// Duration is a time.Duration that is written as a string like "10m".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}
