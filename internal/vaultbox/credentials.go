package vaultbox

import (
	"context"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/credential"
	"github.com/motorical/encimap/internal/model"
)

// CreateIMAPCredential issues an IMAP credential for vb. For a simple
// vaultbox this is also the point at which its Maildir and per-address
// transport route come into existence, per §4.5.3 ("credential creation
// triggers route installation" for simple mailboxes).
func (s *Service) CreateIMAPCredential(ctx context.Context, vb *model.Vaultbox) (*model.IMAPCredential, credential.IssuedCredential, error) {
	cred, issued, err := s.Issuer.IssueIMAPCredential(ctx, vb.OwnerUserID, vb.ID, vb.Alias, vb.Domain)
	if err != nil {
		return nil, credential.IssuedCredential{}, err
	}

	md := s.maildirFor(routeKey(vb, issued.Username))
	if err := md.Init(); err != nil {
		return cred, issued, exterrors.Transient("vaultbox: preparing maildir for credential", err)
	}

	if err := s.Issuer.PushToIMAPDriver(ctx, issued.Username, cred.PasswordHash, maildirPathFor(s.MaildirRoot, routeKey(vb, issued.Username))); err != nil {
		s.recordInconsistency("imap driver push failed after credential issuance", err, "vaultbox_id", vb.ID, "username", issued.Username)
	}

	if vb.MailboxType == model.MailboxSimple {
		localPart, domain := routeAddressFor(vb, issued.Username)
		if err := s.Router.AddEmailRoute(ctx, localPart, domain, "simple-maildir:"+issued.Username, vb.ID, model.RouteSimpleIMAP); err != nil {
			s.recordInconsistency("route installation failed after credential issuance", err, "vaultbox_id", vb.ID, "username", issued.Username)
			return cred, issued, err
		}
	}

	s.Metrics.CredentialIssued("imap")
	return cred, issued, nil
}

// CreateSMTPCredential issues an SMTP submission credential for vb.
func (s *Service) CreateSMTPCredential(ctx context.Context, vb *model.Vaultbox, host string, port int, mode model.SecurityMode) (*model.SMTPCredential, credential.IssuedCredential, error) {
	cred, issued, err := s.Issuer.IssueSMTPCredential(ctx, vb.ID, vb.Alias, vb.Domain, host, port, mode)
	if err != nil {
		return nil, credential.IssuedCredential{}, err
	}
	s.Metrics.CredentialIssued("smtp")
	return cred, issued, nil
}

// routeKey is the Maildir key used for a simple vaultbox's own mailbox
// (keyed by credential username, not vaultbox ID, so the Maildir survives
// vaultbox-ID-independent lookups from the IMAP daemon). Encrypted
// vaultboxes keep using their vaultbox ID as the key.
func routeKey(vb *model.Vaultbox, username string) string {
	if vb.MailboxType == model.MailboxSimple {
		return username
	}
	return vb.ID
}

func maildirPathFor(root, key string) string {
	return root + "/" + key + "/Maildir"
}

// routeAddressFor derives the local-part/domain pair a simple vaultbox's
// credential should route. A simple vaultbox without its own alias yet
// uses the credential's derived username as the local-part (it becomes the
// mailbox's primary address).
func routeAddressFor(vb *model.Vaultbox, username string) (localPart, domain string) {
	if vb.Alias != nil && *vb.Alias != "" {
		return *vb.Alias, vb.Domain
	}
	return username, vb.Domain
}
