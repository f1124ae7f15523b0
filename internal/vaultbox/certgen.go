package vaultbox

import (
	"crypto/rand"
	"crypto/rsa"
)

// generateSelfSignedCert produces an RSA-2048 self-signed certificate for
// an encrypted vaultbox with no recipient certificate supplied, per
// §4.5.1 step 1. RSA is required (rather than the ECDSA used by the
// teacher's TLS self-signed loader) because the S/MIME CMS key-transport
// primitive needs an RSA public key. The private key is discarded: this
// path is for vaultboxes whose owner will supply their own decryption
// certificate later; GenerateCertificateBundle is the path that keeps the
// key, for owners who want encimap to hold the only copy.
func generateSelfSignedCert(commonName string, emailAddress string) (certPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", err
	}
	_, certPEM, err = selfSignedCertificate(key, emailAddress)
	return certPEM, err
}
