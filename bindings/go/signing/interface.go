// Package signing defines how image digests are signed and verified, and how signatures
// are attached to images as OCI referrers.
package signing

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Signature is a signature over a manifest digest.
type Signature struct {
	// Algorithm names the signature scheme, e.g. RSASSA-PSS.
	Algorithm string `json:"algorithm"`
	// MediaType describes the encoding of Value.
	MediaType string `json:"mediaType"`
	// Digest is the signed manifest digest.
	Digest digest.Digest `json:"digest"`
	// Value is the hex encoded signature.
	Value string `json:"value"`
}

// Handler groups signing and verification.
// Implementations MUST be able to verify signatures they produce via Sign.
type Handler interface {
	Signer
	Verifier
}

// Signer signs manifest digests.
type Signer interface {
	Sign(ctx context.Context, dig digest.Digest) (Signature, error)
}

// Verifier checks signatures produced by a Signer.
// Verify MUST fail if sig was not created for dig.
type Verifier interface {
	Verify(ctx context.Context, dig digest.Digest, sig Signature) error
}
