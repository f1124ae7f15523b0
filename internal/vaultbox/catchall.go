package vaultbox

import (
	"context"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

// EnableCatchall implements §4.5.4: domain must carry exactly one simple
// vaultbox, matching vaultboxID. Existing aliases on that vaultbox are
// fatal unless force is set, in which case they (and their routes) are
// removed atomically with the binding update.
func (s *Service) EnableCatchall(ctx context.Context, domain, vaultboxID string, force bool) error {
	simples, err := s.Store.Vaultboxes.Find(ctx, "", store.Eq("domain", domain), store.Eq("mailbox_type", model.MailboxSimple))
	if err != nil {
		return exterrors.Transient("vaultbox: listing simple vaultboxes", err)
	}
	if len(simples) != 1 || simples[0].ID != vaultboxID {
		return exterrors.Conflict("CATCHALL_VAULTBOX_MISMATCH", "catch-all requires exactly one simple vaultbox on the domain, matching the request")
	}
	vb := simples[0]

	aliases, err := s.Store.Aliases.Find(ctx, "", store.Eq("vaultbox_id", vaultboxID))
	if err != nil {
		return exterrors.Transient("vaultbox: listing aliases", err)
	}
	if len(aliases) > 0 && !force {
		return exterrors.Conflict("ALIAS_PRESENT", "vaultbox has aliases; retry with force to remove them")
	}

	for _, a := range aliases {
		if err := s.Router.RemoveEmailRoute(ctx, localPart(a.AliasEmail), domain); err != nil {
			s.recordInconsistency("removing alias route during catch-all enable", err, "vaultbox_id", vaultboxID, "alias_email", a.AliasEmail)
		}
	}
	if len(aliases) > 0 {
		if _, err := s.Store.Aliases.DeleteWhere(ctx, store.Eq("vaultbox_id", vaultboxID)); err != nil {
			return exterrors.Transient("vaultbox: deleting aliases for catch-all conversion", err)
		}
	}

	binding, hasBinding, err := s.Store.Catchalls.FindOne(ctx, store.Eq("domain", domain))
	if err != nil {
		return exterrors.Transient("vaultbox: loading catch-all binding", err)
	}
	if !hasBinding {
		binding = model.CatchallBinding{Domain: domain}
	}
	binding.VaultboxID = vaultboxID
	binding.Enabled = true
	if hasBinding {
		if err := s.Store.Catchalls.Update(ctx, &binding); err != nil {
			return exterrors.Transient("vaultbox: updating catch-all binding", err)
		}
	} else {
		if err := s.Store.Catchalls.Insert(ctx, &binding); err != nil {
			return exterrors.Transient("vaultbox: inserting catch-all binding", err)
		}
	}

	target, err := s.resolveCatchallTarget(ctx, &vb)
	if err != nil {
		return err
	}
	if err := s.Router.AddCatchallRoute(ctx, domain, target, vaultboxID); err != nil {
		s.recordInconsistency("installing catch-all route", err, "domain", domain, "vaultbox_id", vaultboxID)
		return err
	}
	return nil
}

// DisableCatchall implements the disable half of §4.5.4.
func (s *Service) DisableCatchall(ctx context.Context, domain string) error {
	binding, ok, err := s.Store.Catchalls.FindOne(ctx, store.Eq("domain", domain))
	if err != nil {
		return exterrors.Transient("vaultbox: loading catch-all binding", err)
	}
	if !ok || !binding.Enabled {
		return nil
	}
	binding.Enabled = false
	if err := s.Store.Catchalls.Update(ctx, &binding); err != nil {
		return exterrors.Transient("vaultbox: disabling catch-all binding", err)
	}
	if err := s.Router.RemoveCatchallRoute(ctx, domain); err != nil {
		s.recordInconsistency("removing catch-all route", err, "domain", domain)
		return err
	}
	return nil
}

// resolveCatchallTarget prefers the vaultbox's own alias@domain address;
// falling back to its IMAP credential's username when it has none, per
// §4.5.4 step 4.
func (s *Service) resolveCatchallTarget(ctx context.Context, vb *model.Vaultbox) (string, error) {
	if vb.Alias != nil && *vb.Alias != "" {
		return *vb.Alias + "@" + vb.Domain, nil
	}
	cred, ok, err := s.Store.IMAPCreds.FindOne(ctx, store.Eq("vaultbox_id", vb.ID), store.IsNull("revoked_at"))
	if err != nil {
		return "", exterrors.Transient("vaultbox: loading imap credential for catch-all target", err)
	}
	if !ok {
		return "", exterrors.Conflict("NO_CATCHALL_TARGET", "vaultbox has neither a primary address nor an active IMAP credential")
	}
	return cred.Username, nil
}

func localPart(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[:i]
		}
	}
	return addr
}
