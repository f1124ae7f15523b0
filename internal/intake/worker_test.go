package intake

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

func generateTestCertPEM(t *testing.T, cn string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestEncryptSMIMEWrapsCiphertext(t *testing.T) {
	certPEM := generateTestCertPEM(t, "test")
	rfc822 := []byte("From: sender@example.com\r\nTo: sales@example.com\r\nSubject: hi\r\n\r\nbody\r\n")

	out, err := EncryptSMIME(rfc822, []string{certPEM})
	if err != nil {
		t.Fatalf("EncryptSMIME failed: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty output")
	}
	if !containsAll(string(out), "Content-Type: application/x-pkcs7-mime", "smime-type=enveloped-data") {
		t.Fatalf("expected S/MIME headers in output, got: %s", out[:200])
	}
}

func TestEncryptSMIMERequiresCertificates(t *testing.T) {
	_, err := EncryptSMIME([]byte("test"), nil)
	if err == nil {
		t.Fatal("expected error when no certificates are configured")
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !contains(haystack, n) {
			return false
		}
	}
	return true
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestWorkerDeliverWritesMaildirAndMetadata(t *testing.T) {
	root := t.TempDir()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	alias := "sales"
	vb := &model.Vaultbox{ID: "vb-1", OwnerUserID: "u1", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxEncrypted}
	if err := s.Vaultboxes.Insert(ctx, vb); err != nil {
		t.Fatalf("insert vaultbox: %v", err)
	}

	cert1 := &model.Certificate{ID: "c1", VaultboxID: "vb-1", PublicCertPEM: generateTestCertPEM(t, "c1"), CreatedAt: time.Now().Add(-time.Hour)}
	cert2 := &model.Certificate{ID: "c2", VaultboxID: "vb-1", PublicCertPEM: generateTestCertPEM(t, "c2"), CreatedAt: time.Now()}
	if err := s.Certificates.Insert(ctx, cert1); err != nil {
		t.Fatalf("insert cert1: %v", err)
	}
	if err := s.Certificates.Insert(ctx, cert2); err != nil {
		t.Fatalf("insert cert2: %v", err)
	}

	w := NewWorker(s.Vaultboxes, s.Certificates, s.Messages, root, log.Logger{})
	rfc822 := []byte("From: sender@remote.example\r\nTo: sales@example.com\r\nSubject: hi\r\n\r\nbody\r\n")

	msg, err := w.Deliver(ctx, "vb-1", rfc822)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if msg.FromDomain != "remote.example" {
		t.Fatalf("expected from_domain remote.example, got %s", msg.FromDomain)
	}
	if msg.ToAlias != "sales" {
		t.Fatalf("expected to_alias sales, got %s", msg.ToAlias)
	}
	if len(msg.Storage.Recipients) != 2 {
		t.Fatalf("expected 2 recipient fingerprints, got %d", len(msg.Storage.Recipients))
	}

	if _, err := os.Stat(msg.Storage.MaildirPath); err != nil {
		t.Fatalf("expected delivered file to exist at %s: %v", msg.Storage.MaildirPath, err)
	}

	tmpDir := filepath.Join(root, "vb-1", "Maildir", "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir tmp failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files in tmp/, found %d", len(entries))
	}
}

func TestWorkerDeliverRejectsUnknownVaultbox(t *testing.T) {
	root := t.TempDir()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	w := NewWorker(s.Vaultboxes, s.Certificates, s.Messages, root, log.Logger{})
	_, err = w.Deliver(context.Background(), "does-not-exist", []byte("irrelevant"))
	if err == nil {
		t.Fatal("expected error for unknown vaultbox")
	}
}

func TestWorkerDeliverRejectsNoCertificates(t *testing.T) {
	root := t.TempDir()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	alias := "sales"
	vb := &model.Vaultbox{ID: "vb-2", OwnerUserID: "u1", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxEncrypted}
	if err := s.Vaultboxes.Insert(ctx, vb); err != nil {
		t.Fatalf("insert vaultbox: %v", err)
	}

	w := NewWorker(s.Vaultboxes, s.Certificates, s.Messages, root, log.Logger{})
	_, err = w.Deliver(ctx, "vb-2", []byte("irrelevant"))
	if err == nil {
		t.Fatal("expected error when vaultbox has no certificates")
	}
}
