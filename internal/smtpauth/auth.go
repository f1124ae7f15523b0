package smtpauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/motorical/encimap/internal/credential"
	"github.com/motorical/encimap/internal/metrics"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

// ErrInvalidCredentials is the single, uniform failure surfaced to callers
// regardless of which side was tried or whether the username exists at
// all, per §4.7 step 4.
var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyHash is compared against on every miss so that a nonexistent
// username costs the caller the same bcrypt compare as a wrong password
// for an existing one (§8's timing-variance budget).
const dummyHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8vC1w2vItrNwZoUJ8DWNQy7Xs9Bh0e"

// RateLimit describes the submission rate the SMTP front-end should
// enforce for the authenticated credential. Vaultbox credentials get a
// simple generous default (§4.7); legacy credentials are meant to come
// from the subscription service, which is out of scope here (§1) — the
// same generous default is returned until that integration exists.
type RateLimit struct {
	MessagesPerMinute int
	MessagesPerDay    int
}

var defaultRateLimit = RateLimit{MessagesPerMinute: 60, MessagesPerDay: 2000}

// CredentialType distinguishes which table answered the login.
type CredentialType string

const (
	CredentialVaultbox CredentialType = "vaultbox"
	CredentialLegacy   CredentialType = "legacy"
)

// Result is returned to the SMTP front-end on a successful login.
type Result struct {
	Type         CredentialType
	CredentialID string
	OwnerUserID  string
	Domain       string
	Username     string
	RateLimit    RateLimit
}

// Authenticator implements §4.7's unified SMTP auth.
type Authenticator struct {
	smtpCreds  *store.Repo[model.SMTPCredential]
	vaultboxes *store.Repo[model.Vaultbox]
	legacy     *LegacyStore
	metrics    metrics.Collector
}

func NewAuthenticator(smtpCreds *store.Repo[model.SMTPCredential], vaultboxes *store.Repo[model.Vaultbox], legacy *LegacyStore) *Authenticator {
	return &Authenticator{smtpCreds: smtpCreds, vaultboxes: vaultboxes, legacy: legacy, metrics: metrics.NoopCollector{}}
}

// WithMetrics attaches a metrics collector, replacing the no-op default.
func (a *Authenticator) WithMetrics(m metrics.Collector) *Authenticator {
	a.metrics = m
	return a
}

// looksLikeVaultboxUsername reports whether username should be tried
// against the vaultbox SMTP credential table first: either the
// `vaultbox-` prefix used for fallback-derived usernames, or an
// email-form address (the alias@domain form preferred by username
// derivation), per §4.7 step 1.
func looksLikeVaultboxUsername(username string) bool {
	return strings.HasPrefix(username, "vaultbox-") || strings.Contains(username, "@")
}

// Authenticate implements the full §4.7 algorithm: pick a table by
// username shape, verify in constant time, return a uniform error on any
// miss without disclosing which side was tried.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Result, error) {
	if looksLikeVaultboxUsername(username) {
		if res, ok, err := a.tryVaultbox(ctx, username, password); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
		if res, ok, err := a.tryLegacy(ctx, username, password); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
	} else {
		if res, ok, err := a.tryLegacy(ctx, username, password); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
		if res, ok, err := a.tryVaultbox(ctx, username, password); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
	}
	// Neither table matched (or the password was wrong on whichever one
	// did). Burn one bcrypt compare so the miss costs the same whether the
	// username existed or not.
	credential.VerifySMTPPassword(password, dummyHash)
	a.metrics.AuthAttempt("unknown", false)
	return nil, ErrInvalidCredentials
}

func (a *Authenticator) tryVaultbox(ctx context.Context, username, password string) (*Result, bool, error) {
	cred, ok, err := a.smtpCreds.FindOne(ctx, store.Eq("username", username))
	if err != nil {
		return nil, false, err
	}
	if !ok || !cred.Enabled {
		credential.VerifySMTPPassword(password, dummyHash)
		return nil, false, nil
	}
	if !credential.VerifySMTPPassword(password, cred.PasswordHash) {
		return nil, false, nil
	}
	vb, vbOK, err := a.vaultboxes.FindByID(ctx, cred.VaultboxID)
	if err != nil {
		return nil, false, err
	}
	domain := ""
	ownerUserID := ""
	if vbOK {
		domain = vb.Domain
		ownerUserID = vb.OwnerUserID
	}
	now := time.Now()
	cred.LastUsedAt = &now
	cred.MessagesSentCount++
	_ = a.smtpCreds.Update(ctx, &cred)
	a.metrics.AuthAttempt(string(CredentialVaultbox), true)
	return &Result{
		Type:         CredentialVaultbox,
		CredentialID: cred.ID,
		OwnerUserID:  ownerUserID,
		Domain:       domain,
		Username:     cred.Username,
		RateLimit:    defaultRateLimit,
	}, true, nil
}

func (a *Authenticator) tryLegacy(ctx context.Context, username, password string) (*Result, bool, error) {
	if a.legacy == nil {
		credential.VerifySMTPPassword(password, dummyHash)
		return nil, false, nil
	}
	row, ok, err := a.legacy.findByUsername(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if !ok || !row.Enabled {
		credential.VerifySMTPPassword(password, dummyHash)
		return nil, false, nil
	}
	if !credential.VerifySMTPPassword(password, row.PasswordHash) {
		return nil, false, nil
	}
	_ = a.legacy.touchLastUsed(ctx, row.ID)
	a.metrics.AuthAttempt(string(CredentialLegacy), true)
	return &Result{
		Type:         CredentialLegacy,
		CredentialID: row.ID,
		OwnerUserID:  row.OwnerUserID,
		Domain:       row.Domain,
		Username:     row.Username,
		RateLimit:    defaultRateLimit,
	}, true, nil
}
