package smtpauth

import (
	"context"
	"testing"

	"github.com/motorical/encimap/internal/credential"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *store.Store) {
	t.Helper()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewAuthenticator(s.SMTPCreds, s.Vaultboxes, nil), s
}

func insertVaultboxCred(t *testing.T, s *store.Store, username, password string) *model.Vaultbox {
	t.Helper()
	ctx := context.Background()
	alias := "sales"
	vb := &model.Vaultbox{ID: "vb-1", OwnerUserID: "user-1", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxSimple, Status: model.StatusActive}
	if err := s.Vaultboxes.Insert(ctx, vb); err != nil {
		t.Fatalf("inserting vaultbox: %v", err)
	}
	hash, err := credential.HashSMTPPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	cred := &model.SMTPCredential{ID: "cred-1", VaultboxID: vb.ID, Username: username, PasswordHash: hash, Enabled: true}
	if err := s.SMTPCreds.Insert(ctx, cred); err != nil {
		t.Fatalf("inserting credential: %v", err)
	}
	return vb
}

func TestAuthenticateVaultboxCredentialSucceeds(t *testing.T) {
	a, s := newTestAuthenticator(t)
	insertVaultboxCred(t, s, "sales@example.com", "correct horse battery staple")

	res, err := a.Authenticate(context.Background(), "sales@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if res.Type != CredentialVaultbox || res.Domain != "example.com" || res.OwnerUserID != "user-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAuthenticateWrongPasswordRejected(t *testing.T) {
	a, s := newTestAuthenticator(t)
	insertVaultboxCred(t, s, "sales@example.com", "correct horse battery staple")

	_, err := a.Authenticate(context.Background(), "sales@example.com", "wrong password")
	if err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateUnknownUsernameRejectedUniformly(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	_, err := a.Authenticate(context.Background(), "nobody@example.com", "whatever")
	if err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
