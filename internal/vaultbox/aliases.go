package vaultbox

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

const maxAliasesMessage = "a vaultbox may have at most 5 aliases"

// CreateAlias implements the create half of §4.5.5 for a simple mailbox.
func (s *Service) CreateAlias(ctx context.Context, vb *model.Vaultbox, aliasLocalPart string) (*model.Alias, error) {
	binding, hasBinding, err := s.Store.Catchalls.FindOne(ctx, store.Eq("domain", vb.Domain))
	if err != nil {
		return nil, exterrors.Transient("vaultbox: checking catch-all binding", err)
	}
	if hasBinding && binding.Enabled {
		return nil, exterrors.Conflict("DOMAIN_CATCHALL", "cannot create an alias on a domain with catch-all enabled")
	}

	count, err := s.Store.Aliases.Count(ctx, store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		return nil, exterrors.Transient("vaultbox: counting aliases", err)
	}
	if count >= maxAliasesPerVaultbox {
		return nil, exterrors.Conflict("ALIAS_LIMIT", maxAliasesMessage)
	}

	// §3's "alias_email (globally unique, case-insensitive)" is enforced on
	// AliasEmailLower, a separately-stored lowercased form carrying the
	// unique index: AliasEmail itself keeps the caller's casing, since
	// route removal (DeleteAlias, catchall.go) re-derives the MTA route's
	// case-sensitive local-part from it.
	aliasEmail := aliasLocalPart + "@" + vb.Domain
	aliasEmailLower := strings.ToLower(aliasEmail)
	if vb.Alias != nil && strings.EqualFold(*vb.Alias+"@"+vb.Domain, aliasEmailLower) {
		return nil, exterrors.Conflict("ALIAS_CONFLICT", "alias collides with the vaultbox's primary address")
	}
	existing, ok, err := s.Store.Aliases.FindOne(ctx, store.Eq("alias_email_lower", aliasEmailLower))
	if err != nil {
		return nil, exterrors.Transient("vaultbox: checking alias collision", err)
	}
	if ok {
		_ = existing
		return nil, exterrors.Conflict("ALIAS_CONFLICT", "alias already in use")
	}

	cred, hasCred, err := s.Store.IMAPCreds.FindOne(ctx, store.Eq("vaultbox_id", vb.ID), store.IsNull("revoked_at"))
	if err != nil {
		return nil, exterrors.Transient("vaultbox: loading imap credential for alias route", err)
	}
	if !hasCred {
		return nil, exterrors.Conflict("NO_IMAP_CREDENTIAL", "vaultbox has no active IMAP credential to route the alias to")
	}

	alias := &model.Alias{ID: uuid.NewString(), VaultboxID: vb.ID, AliasEmail: aliasEmail, AliasEmailLower: aliasEmailLower, Active: true}
	if err := s.Store.Aliases.Insert(ctx, alias); err != nil {
		return nil, translateInsertErr(err, "alias")
	}

	if err := s.Router.AddEmailRoute(ctx, aliasLocalPart, vb.Domain, "simple-maildir:"+cred.Username, vb.ID, model.RouteSimpleIMAP); err != nil {
		s.recordInconsistency("route installation failed for new alias", err, "vaultbox_id", vb.ID, "alias_email", aliasEmail)
		return alias, err
	}
	return alias, nil
}

// DeleteAlias implements the delete half of §4.5.5: route removal is
// best-effort, the row is always removed.
func (s *Service) DeleteAlias(ctx context.Context, alias *model.Alias, domain string) error {
	if err := s.Router.RemoveEmailRoute(ctx, localPart(alias.AliasEmail), domain); err != nil {
		s.recordInconsistency("route removal failed for deleted alias", err, "alias_id", alias.ID, "alias_email", alias.AliasEmail)
	}
	if err := s.Store.Aliases.Delete(ctx, alias); err != nil {
		return exterrors.Transient("vaultbox: deleting alias row", err)
	}
	return nil
}
