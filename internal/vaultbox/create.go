package vaultbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

const welcomeMessage = `From: encimap@localhost
To: %s@%s
Subject: Welcome to your encrypted mailbox
Content-Type: text/plain; charset=utf-8

This vaultbox is ready. Messages delivered here are encrypted at rest
with the S/MIME certificate configured for this mailbox.
`

// CreateEncryptedVaultbox implements §4.5.1: a vaultbox whose every
// delivered message is S/MIME-encrypted for one or more recipient
// certificates. certPEM may be empty, in which case a self-signed
// certificate is generated.
func (s *Service) CreateEncryptedVaultbox(ctx context.Context, ownerUserID, domain, alias, certPEM string) (*model.Vaultbox, error) {
	if domain == "" || alias == "" {
		return nil, exterrors.Validation("MISSING_FIELD", "domain and alias are required for an encrypted vaultbox")
	}

	id := newVaultboxID()
	aliasCopy := alias
	vb := &model.Vaultbox{
		ID:          id,
		OwnerUserID: ownerUserID,
		Domain:      domain,
		Alias:       &aliasCopy,
		MailboxType: model.MailboxEncrypted,
		Status:      model.StatusActive,
	}

	if certPEM == "" {
		generated, err := generateSelfSignedCert(fmt.Sprintf("%s@%s", alias, domain), fmt.Sprintf("%s@%s", alias, domain))
		if err != nil {
			return nil, exterrors.External("vaultbox: generating self-signed certificate", err)
		}
		certPEM = generated
	}
	fingerprint, err := fingerprintCertPEM(certPEM)
	if err != nil {
		return nil, exterrors.Validation("MALFORMED_CERTIFICATE", err.Error())
	}
	cert := &model.Certificate{
		ID:            uuid.NewString(),
		VaultboxID:    id,
		Label:         "primary",
		PublicCertPEM: certPEM,
		Fingerprint:   fingerprint,
	}

	err = s.Store.Transaction(ctx, store.ReadCommitted, func(tx *store.Store) error {
		if err := tx.Vaultboxes.Insert(ctx, vb); err != nil {
			return translateInsertErr(err, "vaultbox")
		}
		if err := tx.Certificates.Insert(ctx, cert); err != nil {
			return translateInsertErr(err, "certificate")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	md := s.maildirFor(id)
	if err := md.Init(); err != nil {
		s.compensateFailedCreate(ctx, id)
		return nil, err
	}
	if _, err := md.Deliver([]byte(fmt.Sprintf(welcomeMessage, alias, domain))); err != nil {
		s.recordInconsistency("welcome message delivery failed for new vaultbox "+id, err, "vaultbox_id", id)
	}

	if err := s.Router.AddEmailRoute(ctx, alias, domain, "encimap-pipe:"+id, id, model.RouteEncryptedIMAP); err != nil {
		s.recordInconsistency("route installation failed for new vaultbox "+id, err, "vaultbox_id", id)
		return vb, err
	}

	s.Metrics.VaultboxCreated(string(model.MailboxEncrypted))
	return vb, nil
}

// CreateSimpleVaultbox implements §4.5.2: a vaultbox backed by a plain
// (unencrypted) Maildir, optionally designated the catch-all for its
// domain. Route installation is deferred until a credential exists
// (§4.5.3), since the transport target is the credential's username.
func (s *Service) CreateSimpleVaultbox(ctx context.Context, ownerUserID, domain, displayName string, isCatchAll bool) (*model.Vaultbox, error) {
	if domain == "" {
		return nil, exterrors.Validation("MISSING_FIELD", "domain is required for a simple vaultbox")
	}

	binding, hasBinding, err := s.Store.Catchalls.FindOne(ctx, store.Eq("domain", domain))
	if err != nil {
		return nil, exterrors.Transient("vaultbox: checking catch-all binding", err)
	}
	if hasBinding && binding.Enabled {
		return nil, exterrors.Conflict("DOMAIN_CATCHALL", "catch-all is already enabled on this domain; no further simple vaultboxes may be created")
	}

	if isCatchAll {
		count, err := s.Store.Vaultboxes.Count(ctx, store.Eq("domain", domain), store.Eq("mailbox_type", model.MailboxSimple))
		if err != nil {
			return nil, exterrors.Transient("vaultbox: counting simple vaultboxes", err)
		}
		if count > 0 {
			return nil, exterrors.Conflict("SIMPLE_VAULTBOX_EXISTS", "a simple vaultbox already exists on this domain")
		}
	}

	vb := &model.Vaultbox{
		ID:          newVaultboxID(),
		OwnerUserID: ownerUserID,
		Domain:      domain,
		DisplayName: displayName,
		MailboxType: model.MailboxSimple,
		Status:      model.StatusActive,
	}
	if err := s.Store.Vaultboxes.Insert(ctx, vb); err != nil {
		return nil, translateInsertErr(err, "vaultbox")
	}
	s.Metrics.VaultboxCreated(string(model.MailboxSimple))
	return vb, nil
}

func (s *Service) compensateFailedCreate(ctx context.Context, vaultboxID string) {
	vb, ok, err := s.Store.Vaultboxes.FindByID(ctx, vaultboxID)
	if err != nil || !ok {
		s.recordInconsistency("compensating delete could not load vaultbox "+vaultboxID, err, "vaultbox_id", vaultboxID)
		return
	}
	if err := s.Store.Vaultboxes.Delete(ctx, &vb); err != nil {
		vb.Status = model.StatusDisabled
		if uerr := s.Store.Vaultboxes.Update(ctx, &vb); uerr != nil {
			s.recordInconsistency("compensating delete and disable both failed for vaultbox "+vaultboxID, uerr, "vaultbox_id", vaultboxID)
			return
		}
		s.recordInconsistency("compensating delete failed for vaultbox "+vaultboxID+"; disabled instead", err, "vaultbox_id", vaultboxID)
	}
}

// translateInsertErr turns a store.ConstraintError into the matching
// conflict DomainError so API callers see a stable code.
func translateInsertErr(err error, what string) error {
	var ce *store.ConstraintError
	if errors.As(err, &ce) {
		if ce.Kind == "unique" {
			return exterrors.Conflict(fmt.Sprintf("%s_ALREADY_EXISTS", what), fmt.Sprintf("%s violates a uniqueness constraint", what))
		}
		return exterrors.Conflict(fmt.Sprintf("%s_FOREIGN_KEY", what), fmt.Sprintf("%s references a missing row", what))
	}
	return exterrors.Transient("vaultbox: inserting "+what, err)
}
