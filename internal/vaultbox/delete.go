package vaultbox

import (
	"context"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

// DeleteVaultbox implements §4.5.6: remove the vaultbox's own route,
// delete the vaultbox row and every row that references it, then remove
// its Maildir(s). The DB side runs in a transaction; compensation is not
// attempted for filesystem removal failures, they are logged instead,
// matching the non-transactional nature of the filesystem.
func (s *Service) DeleteVaultbox(ctx context.Context, vb *model.Vaultbox) error {
	if vb.Alias != nil && *vb.Alias != "" {
		if err := s.Router.RemoveEmailRoute(ctx, *vb.Alias, vb.Domain); err != nil {
			s.recordInconsistency("removing primary route during vaultbox delete", err, "vaultbox_id", vb.ID)
		}
	}

	aliases, err := s.Store.Aliases.Find(ctx, "", store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		return exterrors.Transient("vaultbox: listing aliases for delete", err)
	}
	for _, a := range aliases {
		if err := s.Router.RemoveEmailRoute(ctx, localPart(a.AliasEmail), vb.Domain); err != nil {
			s.recordInconsistency("removing alias route during vaultbox delete", err, "vaultbox_id", vb.ID, "alias_email", a.AliasEmail)
		}
	}

	var imapUsername string
	if cred, ok, err := s.Store.IMAPCreds.FindOne(ctx, store.Eq("vaultbox_id", vb.ID)); err == nil && ok {
		imapUsername = cred.Username
	}

	err = s.Store.Transaction(ctx, store.ReadCommitted, func(tx *store.Store) error {
		if _, err := tx.Messages.DeleteWhere(ctx, store.Eq("vaultbox_id", vb.ID)); err != nil {
			return err
		}
		if _, err := tx.Aliases.DeleteWhere(ctx, store.Eq("vaultbox_id", vb.ID)); err != nil {
			return err
		}
		if _, err := tx.Certificates.DeleteWhere(ctx, store.Eq("vaultbox_id", vb.ID)); err != nil {
			return err
		}
		if _, err := tx.IMAPCreds.DeleteWhere(ctx, store.Eq("vaultbox_id", vb.ID)); err != nil {
			return err
		}
		if _, err := tx.SMTPCreds.DeleteWhere(ctx, store.Eq("vaultbox_id", vb.ID)); err != nil {
			return err
		}
		if binding, ok, err := tx.Catchalls.FindOne(ctx, store.Eq("vaultbox_id", vb.ID)); err == nil && ok {
			if err := tx.Catchalls.Delete(ctx, &binding); err != nil {
				return err
			}
		}
		return tx.Vaultboxes.Delete(ctx, vb)
	})
	if err != nil {
		return exterrors.Transient("vaultbox: deleting vaultbox and dependents", err)
	}

	if err := removeMaildirTree(s.MaildirRoot, vb.ID); err != nil {
		s.recordInconsistency("removing vaultbox maildir", err, "vaultbox_id", vb.ID)
	}
	if vb.MailboxType == model.MailboxSimple && imapUsername != "" {
		if err := removeMaildirTree(s.MaildirRoot, imapUsername); err != nil {
			s.recordInconsistency("removing username-keyed maildir", err, "vaultbox_id", vb.ID, "username", imapUsername)
		}
	}
	s.Metrics.VaultboxDeleted(string(vb.MailboxType))
	return nil
}
