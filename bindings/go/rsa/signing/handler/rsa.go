package handler

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

const (
	// AlgorithmRSASSAPSS is RSA with probabilistic padding, the default.
	AlgorithmRSASSAPSS = "RSASSA-PSS"
	// AlgorithmRSASSAPKCS1V15 is RSA with deterministic PKCS #1 v1.5 padding.
	AlgorithmRSASSAPKCS1V15 = "RSASSA-PKCS1-V1_5"

	// MediaTypePlainRSASSAPSS is a hex encoded AlgorithmRSASSAPSS signature.
	MediaTypePlainRSASSAPSS = "application/vnd.hangar.signature.rsa.pss"
	// MediaTypePlainRSASSAPKCS1V15 is a hex encoded AlgorithmRSASSAPKCS1V15 signature.
	MediaTypePlainRSASSAPKCS1V15 = "application/vnd.hangar.signature.rsa"
)

// signRSA signs dig using the requested RSA algorithm and hash.
func signRSA(algorithm string, priv *rsa.PrivateKey, h crypto.Hash, dig []byte) ([]byte, error) {
	switch algorithm {
	case AlgorithmRSASSAPSS:
		return rsa.SignPSS(rand.Reader, priv, h, dig, nil)
	case AlgorithmRSASSAPKCS1V15:
		return rsa.SignPKCS1v15(rand.Reader, priv, h, dig)
	default:
		return nil, ErrInvalidAlgorithm
	}
}

// verifyRSA verifies sig over dig using the requested RSA algorithm and hash.
func verifyRSA(algorithm string, pub *rsa.PublicKey, h crypto.Hash, dig, sig []byte) error {
	switch algorithm {
	case AlgorithmRSASSAPSS:
		return rsa.VerifyPSS(pub, h, dig, sig, nil)
	case AlgorithmRSASSAPKCS1V15:
		return rsa.VerifyPKCS1v15(pub, h, dig, sig)
	default:
		return ErrInvalidAlgorithm
	}
}

func mediaTypeFor(algorithm string) string {
	if algorithm == AlgorithmRSASSAPKCS1V15 {
		return MediaTypePlainRSASSAPKCS1V15
	}
	return MediaTypePlainRSASSAPSS
}

// algorithmFromMediaType infers the RSA algorithm from a plain media type.
func algorithmFromMediaType(mt string) (string, error) {
	switch mt {
	case MediaTypePlainRSASSAPSS:
		return AlgorithmRSASSAPSS, nil
	case MediaTypePlainRSASSAPKCS1V15:
		return AlgorithmRSASSAPKCS1V15, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", mt)
	}
}
