package credential

import (
	"context"
	"testing"

	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

func newTestIssuer(t *testing.T) (*Issuer, *store.Store) {
	t.Helper()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewIssuer(s.IMAPCreds, s.SMTPCreds, nil), s
}

func TestCoIssuanceReusesUsername(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()
	alias := "sales"

	imapCred, imapIssued, err := iss.IssueIMAPCredential(ctx, "user-1", "vb-1", &alias, "example.com")
	if err != nil {
		t.Fatalf("IssueIMAPCredential failed: %v", err)
	}

	smtpCred, _, err := iss.IssueSMTPCredential(ctx, "vb-1", &alias, "example.com", "smtp.example.com", 587, model.SecuritySTARTTLS)
	if err != nil {
		t.Fatalf("IssueSMTPCredential failed: %v", err)
	}

	if smtpCred.Username != imapCred.Username {
		t.Fatalf("expected co-issued username to match: imap=%s smtp=%s", imapCred.Username, smtpCred.Username)
	}
	if imapIssued.Username != imapCred.Username {
		t.Fatalf("issued username mismatch: %s vs %s", imapIssued.Username, imapCred.Username)
	}
}

func TestCoIssuanceReversedOrder(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()

	smtpCred, _, err := iss.IssueSMTPCredential(ctx, "vb-2", nil, "example.org", "", 0, "")
	if err != nil {
		t.Fatalf("IssueSMTPCredential failed: %v", err)
	}

	imapCred, _, err := iss.IssueIMAPCredential(ctx, "user-1", "vb-2", nil, "example.org")
	if err != nil {
		t.Fatalf("IssueIMAPCredential failed: %v", err)
	}

	if imapCred.Username != smtpCred.Username {
		t.Fatalf("expected reused username, got imap=%s smtp=%s", imapCred.Username, smtpCred.Username)
	}
}

func TestIssueIMAPCredentialRejectsDuplicate(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()
	alias := "sales"

	if _, _, err := iss.IssueIMAPCredential(ctx, "user-1", "vb-1", &alias, "example.com"); err != nil {
		t.Fatalf("first issuance failed: %v", err)
	}
	if _, _, err := iss.IssueIMAPCredential(ctx, "user-1", "vb-1", &alias, "example.com"); err == nil {
		t.Fatal("expected second issuance to fail")
	}
}

func TestHashIMAPPasswordRoundTrip(t *testing.T) {
	hash, err := HashIMAPPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashIMAPPassword failed: %v", err)
	}
	if !VerifyIMAPPassword("correct horse battery staple", hash) {
		t.Fatal("expected password to verify")
	}
	if VerifyIMAPPassword("wrong password", hash) {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestHashSMTPPasswordRoundTrip(t *testing.T) {
	hash, err := HashSMTPPassword("another strong password")
	if err != nil {
		t.Fatalf("HashSMTPPassword failed: %v", err)
	}
	if !VerifySMTPPassword("another strong password", hash) {
		t.Fatal("expected password to verify")
	}
	if VerifySMTPPassword("nope", hash) {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestDeriveUsernameFallback(t *testing.T) {
	u, err := DeriveUsername(nil, "Example.COM")
	if err != nil {
		t.Fatalf("DeriveUsername failed: %v", err)
	}
	if len(u) == 0 {
		t.Fatal("expected non-empty fallback username")
	}
}
