package vaultbox

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
)

// CertificateBundle is the downloadable artifact produced by
// GenerateCertificateBundle: a ZIP containing the PEM certificate, its
// private key, and a PKCS#12 file combining both for mail clients that
// only import P12. The private key is never persisted; this is the only
// point at which it exists outside the caller's memory.
type CertificateBundle struct {
	CertPEM string
	ZIP     []byte
}

// GenerateCertificateBundle generates a fresh self-signed S/MIME keypair,
// inserts the resulting Certificate row for vb, and packages a ZIP/P12
// bundle for the owner to import into a mail client. This is the combined
// "generate certificate (self-signed)" + "package P12/ZIP bundle"
// operation named in §4.6's operation list.
func (s *Service) GenerateCertificateBundle(ctx context.Context, vb *model.Vaultbox, p12Password string) (*CertificateBundle, error) {
	emailAddr := fmt.Sprintf("%s@%s", derefOrEmpty(vb.Alias), vb.Domain)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, exterrors.External("vaultbox: generating bundle key", err)
	}
	cert, certPEM, err := selfSignedCertificate(key, emailAddr)
	if err != nil {
		return nil, exterrors.External("vaultbox: generating bundle certificate", err)
	}

	fingerprint, err := fingerprintCertPEM(certPEM)
	if err != nil {
		return nil, exterrors.External("vaultbox: fingerprinting bundle certificate", err)
	}
	row := &model.Certificate{
		ID:            newVaultboxID(),
		VaultboxID:    vb.ID,
		Label:         "bundle",
		PublicCertPEM: certPEM,
		Fingerprint:   fingerprint,
	}
	if err := s.Store.Certificates.Insert(ctx, row); err != nil {
		return nil, translateInsertErr(err, "certificate")
	}

	p12Data, err := pkcs12.Encode(rand.Reader, key, cert, nil, p12Password)
	if err != nil {
		return nil, exterrors.External("vaultbox: encoding pkcs12 bundle", err)
	}

	zipData, err := buildZip(map[string][]byte{
		"certificate.pem": []byte(certPEM),
		"private_key.pem": pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		"bundle.p12":      p12Data,
	})
	if err != nil {
		return nil, exterrors.External("vaultbox: building bundle archive", err)
	}

	return &CertificateBundle{CertPEM: certPEM, ZIP: zipData}, nil
}

// AddCertificate attaches an owner-supplied S/MIME certificate to vb. Unlike
// GenerateCertificateBundle, no key material is generated or held: the
// caller is expected to keep the matching private key themselves.
func (s *Service) AddCertificate(ctx context.Context, vb *model.Vaultbox, label, certPEM string) (*model.Certificate, error) {
	fingerprint, err := fingerprintCertPEM(certPEM)
	if err != nil {
		return nil, exterrors.Validation("MALFORMED_CERTIFICATE", err.Error())
	}
	if label == "" {
		label = "uploaded"
	}
	cert := &model.Certificate{
		ID:            newVaultboxID(),
		VaultboxID:    vb.ID,
		Label:         label,
		PublicCertPEM: certPEM,
		Fingerprint:   fingerprint,
	}
	if err := s.Store.Certificates.Insert(ctx, cert); err != nil {
		return nil, translateInsertErr(err, "certificate")
	}
	return cert, nil
}

// GenerateStandaloneCertificate produces a fresh self-signed S/MIME keypair
// not attached to any vaultbox, for callers that want to hold their own key
// material before a vaultbox exists. Neither half is persisted.
func GenerateStandaloneCertificate(commonName, emailAddress, organization string) (privateKeyPEM, certPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}
	_, certPEM, err = selfSignedCertificate(key, emailAddress)
	if err != nil {
		return "", "", err
	}
	privateKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	return privateKeyPEM, certPEM, nil
}

// PackageCertificateArchive builds a ZIP of every certificate currently on
// file for vb, for owners who supplied their own certificates (no private
// key is known to the service, so no P12 is produced).
func (s *Service) PackageCertificateArchive(certs []model.Certificate) ([]byte, error) {
	files := make(map[string][]byte, len(certs))
	for i, c := range certs {
		name := fmt.Sprintf("certificate_%d_%s.pem", i+1, c.ID)
		files[name] = []byte(c.PublicCertPEM)
	}
	data, err := buildZip(files)
	if err != nil {
		return nil, exterrors.External("vaultbox: building certificate archive", err)
	}
	return data, nil
}

func selfSignedCertificate(key *rsa.PrivateKey, emailAddr string) (*x509.Certificate, string, error) {
	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, "", err
	}
	notBefore := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: emailAddr, Organization: []string{"encimap self-signed"}},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(24 * time.Hour * 365 * 10),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
		EmailAddresses:        []string{emailAddr},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, "", err
	}
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return cert, certPEM, nil
}

func buildZip(files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
