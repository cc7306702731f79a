package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	remotecredentials "oras.land/oras-go/v2/registry/remote/credentials"

	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
)

// newCredentialStore loads the docker configuration at path, or from the default
// locations including native credential helpers if path is empty.
func newCredentialStore(ctx context.Context, path string) (remotecredentials.Store, error) {
	logger := log.Realm(ctx, "registry")
	if path == "" {
		logger.DebugContext(ctx, "loading docker config from default locations")
		store, err := remotecredentials.NewStoreFromDocker(remotecredentials.StoreOptions{
			DetectDefaultNativeStore: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load default docker config: %w", err)
		}
		return &loggingStore{store, logger}, nil
	}

	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		logger.WarnContext(ctx, "docker config file not found, no credentials will be offered", slog.String("path", path))
	}
	// a missing file is an empty store
	store, err := remotecredentials.NewStore(path, remotecredentials.StoreOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load docker config %s: %w", path, err)
	}
	return &loggingStore{store, logger}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return home + path[1:], nil
}

func credentialFunc(store remotecredentials.Store) auth.CredentialFunc {
	return remotecredentials.Credential(store)
}

type loggingStore struct {
	remotecredentials.Store
	logger *slog.Logger
}

func (l *loggingStore) Get(ctx context.Context, serverAddress string) (auth.Credential, error) {
	logger := l.logger.With(slog.String("serverAddress", serverAddress))
	credential, err := l.Store.Get(ctx, serverAddress)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "failed to get credential", log.ErrorAttr(err))
	case credential != auth.EmptyCredential:
		logger.DebugContext(ctx, "got credential", slog.String("username", credential.Username))
	default:
		logger.DebugContext(ctx, "got no credential")
	}
	return credential, err
}
