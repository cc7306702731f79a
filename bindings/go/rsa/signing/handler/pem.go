package handler

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
)

// PEM block types of supported keys.
const (
	CertificatePEMBlockType = "CERTIFICATE"
	pemPKCS1PrivateKey      = "RSA PRIVATE KEY"
	pemPKCS8PrivateKey      = "PRIVATE KEY"
	pemPKIXPublicKey        = "PUBLIC KEY"
	pemPKCS1PublicKey       = "RSA PUBLIC KEY"
)

// parsePrivateKeyPEM returns the first RSA private key of concatenated PEM data.
// It supports PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") containers.
func parsePrivateKeyPEM(pemBytes []byte) *rsa.PrivateKey {
	for len(pemBytes) > 0 {
		block, rest := pem.Decode(pemBytes)
		if block == nil {
			break
		}
		switch block.Type {
		case pemPKCS1PrivateKey:
			if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				return k
			}
		case pemPKCS8PrivateKey:
			if anyKey, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
				if k, ok := anyKey.(*rsa.PrivateKey); ok {
					return k
				}
			}
		}
		pemBytes = rest
	}
	return nil
}

// parsePublicKeyPEM returns the first RSA public key of concatenated PEM data.
// PKCS#1 ("RSA PUBLIC KEY"), PKIX ("PUBLIC KEY") and X.509 certificates are accepted.
func parsePublicKeyPEM(pemBytes []byte) *rsa.PublicKey {
	for len(pemBytes) > 0 {
		block, rest := pem.Decode(pemBytes)
		if block == nil {
			return nil
		}
		switch block.Type {
		case pemPKIXPublicKey:
			if k, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
				if pk, ok := k.(*rsa.PublicKey); ok {
					return pk
				}
			}
		case pemPKCS1PublicKey:
			if pk, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
				return pk
			}
		case CertificatePEMBlockType:
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				if pk, ok := cert.PublicKey.(*rsa.PublicKey); ok {
					return pk
				}
			}
		}
		pemBytes = rest
	}
	return nil
}
