// Package handler signs and verifies manifest digests with RSA.
// It supports RSASSA-PSS (default) and RSASSA-PKCS1-v1_5. Signatures are hex encoded.
package handler

import (
	"context"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"

	"ocm.software/open-component-model/hangar/bindings/go/signing"
)

// Common errors for callers to test.
var (
	ErrInvalidAlgorithm  = errors.New("invalid algorithm")
	ErrMissingPrivateKey = errors.New("private key not found")
	ErrMissingPublicKey  = errors.New("public key not found")
)

// Handler holds the keys used for signing and verification.
// A Handler created from a private key can also verify, using the derived public key.
type Handler struct {
	algorithm string
	priv      *rsa.PrivateKey
	pub       *rsa.PublicKey
}

var _ signing.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithAlgorithm selects AlgorithmRSASSAPSS or AlgorithmRSASSAPKCS1V15 for new signatures.
func WithAlgorithm(algorithm string) Option {
	return func(h *Handler) {
		h.algorithm = algorithm
	}
}

// New parses keyPEM, which holds a private key, a public key or a certificate.
func New(keyPEM []byte, opts ...Option) (*Handler, error) {
	h := &Handler{algorithm: AlgorithmRSASSAPSS}
	for _, opt := range opts {
		opt(h)
	}
	if h.algorithm != AlgorithmRSASSAPSS && h.algorithm != AlgorithmRSASSAPKCS1V15 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, h.algorithm)
	}
	if priv := parsePrivateKeyPEM(keyPEM); priv != nil {
		h.priv, h.pub = priv, &priv.PublicKey
		return h, nil
	}
	if pub := parsePublicKeyPEM(keyPEM); pub != nil {
		h.pub = pub
		return h, nil
	}
	return nil, errors.New("no RSA key found in PEM data")
}

// NewFromFile reads the key for New from path.
func NewFromFile(path string, opts ...Option) (*Handler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return New(data, opts...)
}

func (h *Handler) Sign(_ context.Context, dig digest.Digest) (signing.Signature, error) {
	if h.priv == nil {
		return signing.Signature{}, ErrMissingPrivateKey
	}
	hash, raw, err := parseDigest(dig)
	if err != nil {
		return signing.Signature{}, err
	}
	sig, err := signRSA(h.algorithm, h.priv, hash, raw)
	if err != nil {
		return signing.Signature{}, fmt.Errorf("rsa sign: %w", err)
	}
	return signing.Signature{
		Algorithm: h.algorithm,
		MediaType: mediaTypeFor(h.algorithm),
		Digest:    dig,
		Value:     hex.EncodeToString(sig),
	}, nil
}

func (h *Handler) Verify(_ context.Context, dig digest.Digest, sig signing.Signature) error {
	if h.pub == nil {
		return ErrMissingPublicKey
	}
	if sig.Digest != dig {
		return fmt.Errorf("signature was created for %s, not %s", sig.Digest, dig)
	}
	alg, err := algorithmFromMediaType(sig.MediaType)
	if err != nil {
		return err
	}
	if sig.Algorithm != "" && sig.Algorithm != alg {
		return fmt.Errorf("algorithm mismatch: declared %q, media type %q", sig.Algorithm, sig.MediaType)
	}
	hash, raw, err := parseDigest(dig)
	if err != nil {
		return err
	}
	value, err := hex.DecodeString(sig.Value)
	if err != nil {
		return fmt.Errorf("decode hex signature: %w", err)
	}
	return verifyRSA(alg, h.pub, hash, raw, value)
}
