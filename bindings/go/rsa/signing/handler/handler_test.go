package handler_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/bindings/go/rsa/signing/handler"
)

func keyPair(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	r := require.New(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	r.NoError(err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	r.NoError(err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	r.NoError(err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
}

func TestSignVerify(t *testing.T) {
	privPEM, pubPEM := keyPair(t)
	dig := digest.FromString("manifest")

	for _, alg := range []string{handler.AlgorithmRSASSAPSS, handler.AlgorithmRSASSAPKCS1V15} {
		t.Run(alg, func(t *testing.T) {
			r := require.New(t)
			signer, err := handler.New(privPEM, handler.WithAlgorithm(alg))
			r.NoError(err)
			sig, err := signer.Sign(t.Context(), dig)
			r.NoError(err)
			r.Equal(alg, sig.Algorithm)
			r.Equal(dig, sig.Digest)

			r.NoError(signer.Verify(t.Context(), dig, sig))

			verifier, err := handler.New(pubPEM)
			r.NoError(err)
			r.NoError(verifier.Verify(t.Context(), dig, sig))

			_, err = verifier.Sign(t.Context(), dig)
			r.ErrorIs(err, handler.ErrMissingPrivateKey)

			r.Error(verifier.Verify(t.Context(), digest.FromString("other"), sig))
			tampered := sig
			tampered.Digest = digest.FromString("other")
			r.Error(verifier.Verify(t.Context(), tampered.Digest, tampered))
		})
	}
}

func TestVerify_WrongKey(t *testing.T) {
	r := require.New(t)
	privPEM, _ := keyPair(t)
	_, otherPub := keyPair(t)
	dig := digest.FromString("manifest")

	signer, err := handler.New(privPEM)
	r.NoError(err)
	sig, err := signer.Sign(t.Context(), dig)
	r.NoError(err)

	verifier, err := handler.New(otherPub)
	r.NoError(err)
	r.Error(verifier.Verify(t.Context(), dig, sig))
}

func TestNew(t *testing.T) {
	r := require.New(t)
	_, err := handler.New([]byte("not a key"))
	r.Error(err)

	privPEM, _ := keyPair(t)
	_, err = handler.New(privPEM, handler.WithAlgorithm("ECDSA"))
	r.ErrorIs(err, handler.ErrInvalidAlgorithm)

	path := filepath.Join(t.TempDir(), "key.pem")
	r.NoError(os.WriteFile(path, privPEM, 0o600))
	h, err := handler.NewFromFile(path)
	r.NoError(err)
	_, err = h.Sign(t.Context(), digest.FromString("x"))
	r.NoError(err)

	_, err = handler.NewFromFile(filepath.Join(t.TempDir(), "missing.pem"))
	r.ErrorIs(err, os.ErrNotExist)
}
