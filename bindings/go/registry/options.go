package registry

import (
	"net/http"

	"oras.land/oras-go/v2/registry/remote/auth"
)

// Option configures a Session.
type Option interface {
	Apply(*Session)
}

// OptionFunc is a function type that implements the Option interface.
type OptionFunc func(*Session)

func (f OptionFunc) Apply(s *Session) {
	f(s)
}

// WithInsecureSkipTLSVerify disables verification of registry certificates.
func WithInsecureSkipTLSVerify(insecure bool) Option {
	return OptionFunc(func(s *Session) {
		s.insecure = insecure
	})
}

// WithPlainHTTP talks to registries over plain HTTP instead of HTTPS.
func WithPlainHTTP(plainHTTP bool) Option {
	return OptionFunc(func(s *Session) {
		s.plainHTTP = plainHTTP
	})
}

// WithDockerConfigFile reads credentials from the given docker config file instead of
// the default locations.
func WithDockerConfigFile(path string) Option {
	return OptionFunc(func(s *Session) {
		s.dockerConfigFile = path
	})
}

// WithCredentialFunc replaces the docker config lookup.
func WithCredentialFunc(fn auth.CredentialFunc) Option {
	return OptionFunc(func(s *Session) {
		s.credential = fn
	})
}

func WithUserAgent(userAgent string) Option {
	return OptionFunc(func(s *Session) {
		s.userAgent = userAgent
	})
}

// WithTransport replaces the base transport. Retries are still applied on top.
func WithTransport(transport http.RoundTripper) Option {
	return OptionFunc(func(s *Session) {
		s.transport = transport
	})
}
