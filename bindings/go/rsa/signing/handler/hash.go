package handler

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

var ErrMissingDigestValue = errors.New("missing digest value")

// parseDigest extracts hash function and raw digest bytes from a manifest digest.
func parseDigest(d digest.Digest) (crypto.Hash, []byte, error) {
	if d == "" {
		return 0, nil, ErrMissingDigestValue
	}
	if err := d.Validate(); err != nil {
		return 0, nil, fmt.Errorf("invalid digest %q: %w", d, err)
	}
	b, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return 0, nil, fmt.Errorf("invalid hex digest: %w", err)
	}
	h, err := hashFromAlgorithm(d.Algorithm())
	if err != nil {
		return 0, nil, err
	}
	return h, b, nil
}

func hashFromAlgorithm(alg digest.Algorithm) (crypto.Hash, error) {
	switch alg {
	case digest.SHA256:
		return crypto.SHA256, nil
	case digest.SHA384:
		return crypto.SHA384, nil
	case digest.SHA512:
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported hash algorithm %q", alg)
}
