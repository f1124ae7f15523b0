// Package intake implements the S/MIME intake worker (C4): it accepts a
// raw RFC-822 byte stream addressed to a vaultbox, encrypts it for every
// configured recipient certificate, and writes it to the vaultbox's
// Maildir.
package intake

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sync"

	"go.mozilla.org/pkcs7"

	"github.com/motorical/encimap/framework/exterrors"
)

// encryptMu guards go.mozilla.org/pkcs7's package-level
// ContentEncryptionAlgorithm variable. The library has no per-call
// algorithm parameter, so the set-encrypt-fallback-reset sequence below
// must run under a lock: encimapd serves concurrent intake connections
// (SPEC_FULL.md §5), and without it one delivery's GCM-to-CBC fallback
// could flip the algorithm out from under another delivery's GCM attempt.
var encryptMu sync.Mutex

// EncryptSMIME wraps rfc822 (the full original message, headers and body)
// in a CMS EnvelopedData structure for every certificate in certs, then
// produces a complete S/MIME message: a small set of outer MIME headers
// followed by the base64-encoded ciphertext. Certificates are consumed in
// the order given; callers are responsible for passing them in
// created_at ascending order so recipient ordering is deterministic.
func EncryptSMIME(rfc822 []byte, certPEMs []string) ([]byte, error) {
	if len(certPEMs) == 0 {
		return nil, exterrors.Validation("NO_CERTIFICATES", "vaultbox has no recipient certificates configured")
	}

	certs := make([]*x509.Certificate, 0, len(certPEMs))
	for i, certPEM := range certPEMs {
		block, _ := pem.Decode([]byte(certPEM))
		if block == nil {
			return nil, exterrors.Validation("MALFORMED_CERTIFICATE", fmt.Sprintf("certificate %d is not valid PEM", i))
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, exterrors.Validation("MALFORMED_CERTIFICATE", fmt.Sprintf("certificate %d: %v", i, err))
		}
		certs = append(certs, cert)
	}

	encryptMu.Lock()
	pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES256GCM
	der, err := pkcs7.Encrypt(rfc822, certs)
	if err != nil {
		// CBC fallback: some recipient certs or toolchains do not support
		// the GCM content encryption algorithm; retry with AES-256-CBC
		// before treating the failure as permanent.
		pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES256CBC
		der, err = pkcs7.Encrypt(rfc822, certs)
	}
	encryptMu.Unlock()
	if err != nil {
		return nil, exterrors.External("pkcs7: encrypting message", err)
	}

	var out bytes.Buffer
	out.WriteString("MIME-Version: 1.0\r\n")
	out.WriteString("Content-Type: application/x-pkcs7-mime; smime-type=enveloped-data; name=\"smime.p7m\"\r\n")
	out.WriteString("Content-Transfer-Encoding: base64\r\n")
	out.WriteString("Content-Disposition: attachment; filename=\"smime.p7m\"\r\n")
	out.WriteString("\r\n")

	enc := base64.NewEncoder(base64.StdEncoding, wrapAt76(&out))
	if _, err := enc.Write(der); err != nil {
		return nil, exterrors.External("pkcs7: base64-encoding ciphertext", err)
	}
	if err := enc.Close(); err != nil {
		return nil, exterrors.External("pkcs7: closing base64 encoder", err)
	}
	out.WriteString("\r\n")

	return out.Bytes(), nil
}

// wrapAt76 inserts a CRLF every 76 encoded characters, matching the MIME
// base64 line-length convention.
type lineWrapper struct {
	w   *bytes.Buffer
	col int
}

func wrapAt76(w *bytes.Buffer) *lineWrapper {
	return &lineWrapper{w: w}
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	n := 0
	for _, b := range p {
		if l.col == 76 {
			l.w.WriteString("\r\n")
			l.col = 0
		}
		l.w.WriteByte(b)
		l.col++
		n++
	}
	return n, nil
}
