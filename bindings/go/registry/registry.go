package registry

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"oras.land/oras-go/v2"
	orasregistry "oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"ocm.software/open-component-model/hangar/bindings/go/internal/log"
)

const (
	// DockerHub is the registry name used in references to Docker Hub.
	DockerHub = "docker.io"
	// DockerHubEndpoint serves the distribution API of Docker Hub.
	DockerHubEndpoint = "registry-1.docker.io"

	DefaultUserAgent = "hangar"
)

// Repository is a single repository of a registry.
// Predecessors are needed to discover referrers such as signatures.
type Repository interface {
	oras.GraphTarget
}

// Resolver hands out repositories for references.
type Resolver interface {
	Repository(ctx context.Context, ref orasregistry.Reference) (Repository, error)
}

// ParseReference parses a fully qualified reference.
func ParseReference(reference string) (orasregistry.Reference, error) {
	ref, err := orasregistry.ParseReference(reference)
	if err != nil {
		return orasregistry.Reference{}, fmt.Errorf("invalid reference %q: %w", reference, err)
	}
	return ref, nil
}

// Session talks to remote registries on behalf of one command invocation.
// Repository clients are created once per repository and share the token cache.
type Session struct {
	insecure         bool
	plainHTTP        bool
	dockerConfigFile string
	userAgent        string
	credential       auth.CredentialFunc
	transport        http.RoundTripper

	client *auth.Client

	cacheMu sync.RWMutex
	cache   map[string]*remote.Repository
}

var _ Resolver = (*Session)(nil)

// NewSession creates a Session. Without WithCredentialFunc, credentials are read from the
// docker configuration.
func NewSession(ctx context.Context, opts ...Option) (*Session, error) {
	s := &Session{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt.Apply(s)
	}

	if s.credential == nil {
		store, err := newCredentialStore(ctx, s.dockerConfigFile)
		if err != nil {
			return nil, err
		}
		s.credential = credentialFunc(store)
	}

	base := s.transport
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if s.insecure {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // requested with --tls-verify=false
		}
		base = tr
	}

	s.client = &auth.Client{
		Client: &http.Client{Transport: retry.NewTransport(base)},
		Header: map[string][]string{
			"User-Agent": {s.userAgent},
		},
		Cache:      auth.NewCache(),
		Credential: s.credential,
	}

	log.Realm(ctx, "registry").DebugContext(ctx, "registry session created",
		slog.Bool("insecure", s.insecure), slog.Bool("plainHTTP", s.plainHTTP))
	return s, nil
}

// Credential returns the credential used for the registry at hostport.
func (s *Session) Credential(ctx context.Context, hostport string) (auth.Credential, error) {
	return s.credential(ctx, hostport)
}

// Client returns the authenticating HTTP client shared by all repositories of the session.
func (s *Session) Client() remote.Client {
	return s.client
}

// Repository returns the client of the repository ref points to.
func (s *Session) Repository(_ context.Context, ref orasregistry.Reference) (Repository, error) {
	if err := ref.ValidateRegistry(); err != nil {
		return nil, err
	}
	if err := ref.ValidateRepository(); err != nil {
		return nil, err
	}
	key := ref.Registry + "/" + ref.Repository

	s.cacheMu.RLock()
	repo, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok {
		return repo, nil
	}

	endpoint := orasregistry.Reference{Registry: ref.Registry, Repository: ref.Repository}
	if endpoint.Registry == DockerHub {
		endpoint.Registry = DockerHubEndpoint
	}
	repo = &remote.Repository{
		Client:    s.client,
		Reference: endpoint,
		PlainHTTP: s.plainHTTP,
		// registries without the referrers API usually cannot delete manifests either
		SkipReferrersGC: true,
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if existing, ok := s.cache[key]; ok {
		return existing, nil
	}
	if s.cache == nil {
		s.cache = make(map[string]*remote.Repository)
	}
	s.cache[key] = repo
	return repo, nil
}
