// Package credential implements the credential issuer (C3): unified
// username derivation shared by IMAP and SMTP credentials, CSPRNG
// password generation, memory-hard and bcrypt hashing, and the IMAP
// credential file maintained for the IMAP daemon.
package credential

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

// IMAPDriver is the boundary to the IMAP daemon: rewriting the credential
// file is not enough by itself, the daemon must also be told to reload
// and drop any cached authentication result for the affected user.
type IMAPDriver interface {
	UpsertCredential(ctx context.Context, username, passwordHash, maildirPath string) error
	RemoveCredential(ctx context.Context, username string) error
	FlushAuthCache(ctx context.Context, username string) error
}

// Issuer co-issues IMAP and SMTP credentials for a vaultbox, enforcing the
// single co-issuance invariant: both sides share one username, resolved
// by a single query and a single conditional (§9's redesign note), never
// by two independent existence checks that can race.
type Issuer struct {
	imapCreds *store.Repo[model.IMAPCredential]
	smtpCreds *store.Repo[model.SMTPCredential]
	imapDrv   IMAPDriver
}

func NewIssuer(imapCreds *store.Repo[model.IMAPCredential], smtpCreds *store.Repo[model.SMTPCredential], imapDrv IMAPDriver) *Issuer {
	return &Issuer{imapCreds: imapCreds, smtpCreds: smtpCreds, imapDrv: imapDrv}
}

// IssuedCredential carries the plaintext password, which is never
// persisted and is only returned to the caller at issuance time.
type IssuedCredential struct {
	Username string
	Password string
}

// resolveUsername returns the username to use for a new credential on
// vaultboxID: the counterpart's username if one already exists, otherwise
// a freshly derived one. Exactly one query per channel, one conditional.
func (iss *Issuer) resolveUsername(ctx context.Context, vaultboxID string, alias *string, domain string, preferIMAPCounterpart bool) (string, error) {
	if preferIMAPCounterpart {
		existing, ok, err := iss.imapCreds.FindOne(ctx, store.Eq("vaultbox_id", vaultboxID), store.IsNull("revoked_at"))
		if err != nil {
			return "", err
		}
		if ok {
			return existing.Username, nil
		}
	} else {
		existing, ok, err := iss.smtpCreds.FindOne(ctx, store.Eq("vaultbox_id", vaultboxID))
		if err != nil {
			return "", err
		}
		if ok {
			return existing.Username, nil
		}
	}
	return DeriveUsername(alias, domain)
}

// IssueIMAPCredential creates (or, if one already exists and is not
// revoked, returns an error for — callers should use RegenerateIMAPCredential)
// the IMAP-side credential for a vaultbox.
func (iss *Issuer) IssueIMAPCredential(ctx context.Context, ownerUserID, vaultboxID string, alias *string, domain string) (*model.IMAPCredential, IssuedCredential, error) {
	_, ok, err := iss.imapCreds.FindOne(ctx, store.Eq("vaultbox_id", vaultboxID), store.IsNull("revoked_at"))
	if err != nil {
		return nil, IssuedCredential{}, err
	}
	if ok {
		return nil, IssuedCredential{}, exterrors.Conflict("IMAP_CREDENTIAL_EXISTS", "an active IMAP credential already exists for this vaultbox")
	}

	username, err := iss.resolveUsername(ctx, vaultboxID, alias, domain, false)
	if err != nil {
		return nil, IssuedCredential{}, err
	}
	password, err := GeneratePassword()
	if err != nil {
		return nil, IssuedCredential{}, err
	}
	hash, err := HashIMAPPassword(password)
	if err != nil {
		return nil, IssuedCredential{}, err
	}

	row := &model.IMAPCredential{
		ID:           uuid.NewString(),
		OwnerUserID:  ownerUserID,
		VaultboxID:   vaultboxID,
		Username:     username,
		PasswordHash: hash,
	}
	if err := iss.imapCreds.Insert(ctx, row); err != nil {
		return nil, IssuedCredential{}, err
	}
	return row, IssuedCredential{Username: username, Password: password}, nil
}

// IssueSMTPCredential creates the SMTP-side credential for a vaultbox.
func (iss *Issuer) IssueSMTPCredential(ctx context.Context, vaultboxID string, alias *string, domain, host string, port int, mode model.SecurityMode) (*model.SMTPCredential, IssuedCredential, error) {
	_, ok, err := iss.smtpCreds.FindOne(ctx, store.Eq("vaultbox_id", vaultboxID))
	if err != nil {
		return nil, IssuedCredential{}, err
	}
	if ok {
		return nil, IssuedCredential{}, exterrors.Conflict("SMTP_CREDENTIAL_EXISTS", "an SMTP credential already exists for this vaultbox")
	}

	username, err := iss.resolveUsername(ctx, vaultboxID, alias, domain, true)
	if err != nil {
		return nil, IssuedCredential{}, err
	}
	password, err := GeneratePassword()
	if err != nil {
		return nil, IssuedCredential{}, err
	}
	hash, err := HashSMTPPassword(password)
	if err != nil {
		return nil, IssuedCredential{}, err
	}

	row := &model.SMTPCredential{
		ID:           uuid.NewString(),
		VaultboxID:   vaultboxID,
		Username:     username,
		PasswordHash: hash,
		Host:         host,
		Port:         port,
		SecurityMode: mode,
		Enabled:      true,
	}
	if err := iss.smtpCreds.Insert(ctx, row); err != nil {
		return nil, IssuedCredential{}, err
	}
	return row, IssuedCredential{Username: username, Password: password}, nil
}

// RegenerateIMAPCredential rotates the password for an existing credential
// in place, keeping the username, and pushes the new hash to the IMAP
// daemon.
func (iss *Issuer) RegenerateIMAPCredential(ctx context.Context, cred *model.IMAPCredential, maildirPath string) (IssuedCredential, error) {
	password, err := GeneratePassword()
	if err != nil {
		return IssuedCredential{}, err
	}
	hash, err := HashIMAPPassword(password)
	if err != nil {
		return IssuedCredential{}, err
	}
	cred.PasswordHash = hash
	if err := iss.imapCreds.Update(ctx, cred); err != nil {
		return IssuedCredential{}, err
	}
	if iss.imapDrv != nil {
		if err := iss.imapDrv.UpsertCredential(ctx, cred.Username, hash, maildirPath); err != nil {
			return IssuedCredential{}, exterrors.Transient("imap driver: upserting regenerated credential", err)
		}
		if err := iss.imapDrv.FlushAuthCache(ctx, cred.Username); err != nil {
			return IssuedCredential{}, exterrors.Transient("imap driver: flushing auth cache", err)
		}
	}
	return IssuedCredential{Username: cred.Username, Password: password}, nil
}

// RevokeIMAPCredential marks the credential revoked and removes it from
// the IMAP daemon's credential file.
func (iss *Issuer) RevokeIMAPCredential(ctx context.Context, cred *model.IMAPCredential) error {
	now := time.Now()
	cred.RevokedAt = &now
	if err := iss.imapCreds.Update(ctx, cred); err != nil {
		return err
	}
	if iss.imapDrv != nil {
		if err := iss.imapDrv.RemoveCredential(ctx, cred.Username); err != nil {
			return exterrors.Transient("imap driver: removing revoked credential", err)
		}
	}
	return nil
}

// RegenerateSMTPCredential rotates an SMTP credential's password in place.
func (iss *Issuer) RegenerateSMTPCredential(ctx context.Context, cred *model.SMTPCredential) (IssuedCredential, error) {
	password, err := GeneratePassword()
	if err != nil {
		return IssuedCredential{}, err
	}
	hash, err := HashSMTPPassword(password)
	if err != nil {
		return IssuedCredential{}, err
	}
	cred.PasswordHash = hash
	if err := iss.smtpCreds.Update(ctx, cred); err != nil {
		return IssuedCredential{}, err
	}
	return IssuedCredential{Username: cred.Username, Password: password}, nil
}

// DeleteSMTPCredential removes the row outright; unlike IMAP credentials,
// SMTP credentials have no external driver to notify.
func (iss *Issuer) DeleteSMTPCredential(ctx context.Context, cred *model.SMTPCredential) error {
	return iss.smtpCreds.Delete(ctx, cred)
}

// PushToIMAPDriver publishes a freshly issued credential's hash to the
// IMAP daemon and reloads it.
func (iss *Issuer) PushToIMAPDriver(ctx context.Context, username, passwordHash, maildirPath string) error {
	if iss.imapDrv == nil {
		return nil
	}
	if err := iss.imapDrv.UpsertCredential(ctx, username, passwordHash, maildirPath); err != nil {
		return exterrors.Transient("imap driver: upserting credential", err)
	}
	return iss.imapDrv.FlushAuthCache(ctx, username)
}
