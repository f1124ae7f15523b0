package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
	"github.com/motorical/encimap/internal/vaultbox"
)

// Server is the Management HTTP surface (C6): a thin request-auth proxy in
// front of internal/vaultbox, never embedding domain logic of its own, per
// §4.6. The versioned prefix is mounted at NewServer's call site so that
// tests can exercise handlers directly without going through net/http.
type Server struct {
	Service *vaultbox.Service
	Auth    *Authenticator
	Log     log.Logger

	mux *http.ServeMux
}

// NewServer builds the /s2s/v1 route table.
func NewServer(svc *vaultbox.Service, auth *Authenticator, logger log.Logger) *Server {
	s := &Server{Service: svc, Auth: auth, Log: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

const prefix = "/s2s/v1"

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET "+prefix+"/vaultboxes", s.withAuth(s.handleListVaultboxes))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes", s.withAuth(s.handleCreateVaultbox))
	s.mux.HandleFunc("DELETE "+prefix+"/vaultboxes/{id}", s.withAuth(s.handleDeleteVaultbox))
	s.mux.HandleFunc("PATCH "+prefix+"/vaultboxes/{id}/status", s.withAuth(s.handleSetVaultboxStatus))

	s.mux.HandleFunc("GET "+prefix+"/vaultboxes/{id}/imap-credentials", s.withAuth(s.handleGetIMAPCredential))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/imap-credentials", s.withAuth(s.handleCreateIMAPCredential))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/imap-credentials/regenerate", s.withAuth(s.handleRegenerateIMAPCredential))
	s.mux.HandleFunc("DELETE "+prefix+"/vaultboxes/{id}/imap-credentials", s.withAuth(s.handleDeleteIMAPCredential))

	s.mux.HandleFunc("GET "+prefix+"/vaultboxes/{id}/smtp-credentials", s.withAuth(s.handleGetSMTPCredential))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/smtp-credentials", s.withAuth(s.handleCreateSMTPCredential))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/smtp-credentials/regenerate", s.withAuth(s.handleRegenerateSMTPCredential))
	s.mux.HandleFunc("DELETE "+prefix+"/vaultboxes/{id}/smtp-credentials", s.withAuth(s.handleDeleteSMTPCredential))

	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/certs", s.withAuth(s.handleUploadCert))
	s.mux.HandleFunc("POST "+prefix+"/generate-certificate", s.withAuth(s.handleGenerateCertificate))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/bundle", s.withAuth(s.handleBundle))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/p12", s.withAuth(s.handleP12))

	s.mux.HandleFunc("GET "+prefix+"/vaultboxes/{id}/aliases", s.withAuth(s.handleListAliases))
	s.mux.HandleFunc("POST "+prefix+"/vaultboxes/{id}/aliases", s.withAuth(s.handleCreateAlias))
	s.mux.HandleFunc("DELETE "+prefix+"/vaultboxes/{id}/aliases/{aliasId}", s.withAuth(s.handleDeleteAlias))

	s.mux.HandleFunc("GET "+prefix+"/domains/{domain}/simple-status", s.withAuth(s.handleSimpleStatus))
	s.mux.HandleFunc("PUT "+prefix+"/domains/{domain}/catchall", s.withAuth(s.handleCatchall))

	s.mux.HandleFunc("GET "+prefix+"/usage", s.withAuth(s.handleUsage))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"adapters": map[string]interface{}{
			"database": "ok",
			"mta":      "ok",
		},
	})
}

// withAuth wraps a handler with bearer-token authentication, injecting the
// resolved Principal via request context.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, p *Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, exterrors.Unauthorized("missing or invalid bearer token"))
			return
		}
		next(w, r, p)
	}
}

func readJSONBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// loadOwnedVaultbox fetches the vaultbox named by the {id} path value and
// enforces the owner-equality rule, returning a ready-to-use *DomainError
// on any failure so callers can just propagate it.
func (s *Server) loadOwnedVaultbox(r *http.Request, p *Principal) (*model.Vaultbox, error) {
	id := r.PathValue("id")
	if id == "" {
		return nil, exterrors.Validation("MISSING_ID", "vaultbox id is required")
	}
	vb, ok, err := s.Service.Store.Vaultboxes.FindByID(r.Context(), id)
	if err != nil {
		return nil, exterrors.Transient("api: loading vaultbox", err)
	}
	if !ok {
		return nil, exterrors.NotFound("vaultbox not found")
	}
	if !p.AuthorizeOwner(vb.OwnerUserID) {
		return nil, exterrors.Unauthorized("caller does not own this vaultbox")
	}
	return &vb, nil
}

// --- Vaultboxes ---

func (s *Server) handleListVaultboxes(w http.ResponseWriter, r *http.Request, p *Principal) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, exterrors.Validation("MISSING_USER_ID", "user_id query parameter is required"))
		return
	}
	if !p.AuthorizeOwner(userID) {
		writeError(w, exterrors.Unauthorized("caller may not list another user's vaultboxes"))
		return
	}
	vbs, err := s.Service.Store.Vaultboxes.Find(r.Context(), "created_at ASC", store.Eq("owner_user_id", userID))
	if err != nil {
		writeError(w, exterrors.Transient("api: listing vaultboxes", err))
		return
	}

	type vaultboxSummary struct {
		ID          string `json:"id"`
		Domain      string `json:"domain"`
		Alias       string `json:"alias,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
		MailboxType string `json:"mailbox_type"`
		Status      string `json:"status"`
		HasSMTP     bool   `json:"has_smtp"`
		HasCert     bool   `json:"has_cert"`
	}
	out := make([]vaultboxSummary, 0, len(vbs))
	for _, vb := range vbs {
		_, hasSMTP, _ := s.Service.Store.SMTPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID))
		certCount, _ := s.Service.Store.Certificates.Count(r.Context(), store.Eq("vaultbox_id", vb.ID))
		out = append(out, vaultboxSummary{
			ID: vb.ID, Domain: vb.Domain, Alias: derefStr(vb.Alias), DisplayName: vb.DisplayName,
			MailboxType: string(vb.MailboxType), Status: string(vb.Status),
			HasSMTP: hasSMTP, HasCert: certCount > 0,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type createVaultboxRequest struct {
	UserID      string `json:"user_id"`
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	MailboxType string `json:"mailbox_type"`
	IsCatchAll  bool   `json:"isCatchAll"`
	CertPEM     string `json:"public_cert_pem"`
}

func (s *Server) handleCreateVaultbox(w http.ResponseWriter, r *http.Request, p *Principal) {
	var req createVaultboxRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, exterrors.Validation("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	if req.UserID == "" || req.Domain == "" {
		writeError(w, exterrors.Validation("MISSING_FIELD", "user_id and domain are required"))
		return
	}
	if !p.AuthorizeOwner(req.UserID) {
		writeError(w, exterrors.Unauthorized("caller may not create a vaultbox for another user"))
		return
	}

	domain := strings.ToLower(req.Domain)
	mailboxType := req.MailboxType
	if mailboxType == "" {
		mailboxType = string(model.MailboxEncrypted)
	}

	var (
		vb  *model.Vaultbox
		err error
	)
	switch model.MailboxType(mailboxType) {
	case model.MailboxEncrypted:
		vb, err = s.Service.CreateEncryptedVaultbox(r.Context(), req.UserID, domain, req.Alias, req.CertPEM)
	case model.MailboxSimple:
		vb, err = s.Service.CreateSimpleVaultbox(r.Context(), req.UserID, domain, req.Name, req.IsCatchAll)
	default:
		err = exterrors.Validation("INVALID_MAILBOX_TYPE", "mailbox_type must be encrypted or simple")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"vaultbox_id": vb.ID, "domain": vb.Domain})
}

func (s *Server) handleDeleteVaultbox(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Service.DeleteVaultbox(r.Context(), vb); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (s *Server) handleSetVaultboxStatus(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, exterrors.Validation("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	if err := s.Service.SetStatus(r.Context(), vb, model.VaultboxStatus(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": vb.ID, "status": vb.Status})
}

// --- IMAP credentials ---

func (s *Server) handleGetIMAPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	cred, ok, err := s.Service.Store.IMAPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID), store.IsNull("revoked_at"))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading imap credential", err))
		return
	}
	if !ok {
		writeError(w, exterrors.NotFound("no active IMAP credential for this vaultbox"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"username": cred.Username, "created_at": cred.CreatedAt})
}

func (s *Server) handleCreateIMAPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	_, issued, err := s.Service.CreateIMAPCredential(r.Context(), vb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"username": issued.Username, "password": issued.Password})
}

func (s *Server) handleRegenerateIMAPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	cred, ok, err := s.Service.Store.IMAPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID), store.IsNull("revoked_at"))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading imap credential", err))
		return
	}
	if !ok {
		writeError(w, exterrors.NotFound("no active IMAP credential for this vaultbox"))
		return
	}
	maildirPath := s.Service.MaildirRoot + "/" + vb.ID + "/Maildir"
	if vb.MailboxType == model.MailboxSimple {
		maildirPath = s.Service.MaildirRoot + "/" + cred.Username + "/Maildir"
	}
	issued, err := s.Service.Issuer.RegenerateIMAPCredential(r.Context(), &cred, maildirPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"username": issued.Username, "password": issued.Password})
}

func (s *Server) handleDeleteIMAPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	cred, ok, err := s.Service.Store.IMAPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID), store.IsNull("revoked_at"))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading imap credential", err))
		return
	}
	if !ok {
		writeError(w, exterrors.NotFound("no active IMAP credential for this vaultbox"))
		return
	}
	if err := s.Service.Issuer.RevokeIMAPCredential(r.Context(), &cred); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// --- SMTP credentials ---

func (s *Server) handleGetSMTPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	cred, ok, err := s.Service.Store.SMTPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading smtp credential", err))
		return
	}
	if !ok {
		writeError(w, exterrors.NotFound("no SMTP credential for this vaultbox"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": cred.Username, "host": cred.Host, "port": cred.Port, "security_type": cred.SecurityMode,
	})
}

type smtpCredentialRequest struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	SecurityType string `json:"security_type"`
}

func (s *Server) handleCreateSMTPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	var req smtpCredentialRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, exterrors.Validation("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	mode := model.SecurityMode(req.SecurityType)
	if mode == "" {
		mode = model.SecuritySTARTTLS
	}
	_, issued, err := s.Service.CreateSMTPCredential(r.Context(), vb, req.Host, req.Port, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"credentials": map[string]interface{}{
		"username": issued.Username, "password": issued.Password, "host": req.Host, "port": req.Port, "security_type": mode,
	}})
}

func (s *Server) handleRegenerateSMTPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	cred, ok, err := s.Service.Store.SMTPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading smtp credential", err))
		return
	}
	if !ok {
		writeError(w, exterrors.NotFound("no SMTP credential for this vaultbox"))
		return
	}
	issued, err := s.Service.Issuer.RegenerateSMTPCredential(r.Context(), &cred)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": map[string]interface{}{
		"username": issued.Username, "password": issued.Password, "host": cred.Host, "port": cred.Port, "security_type": cred.SecurityMode,
	}})
}

func (s *Server) handleDeleteSMTPCredential(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	cred, ok, err := s.Service.Store.SMTPCreds.FindOne(r.Context(), store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading smtp credential", err))
		return
	}
	if !ok {
		writeError(w, exterrors.NotFound("no SMTP credential for this vaultbox"))
		return
	}
	if err := s.Service.Issuer.DeleteSMTPCredential(r.Context(), &cred); err != nil {
		writeError(w, exterrors.Transient("api: deleting smtp credential", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// --- Certificates ---

type uploadCertRequest struct {
	Label         string `json:"label"`
	PublicCertPEM string `json:"public_cert_pem"`
}

func (s *Server) handleUploadCert(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	var req uploadCertRequest
	if err := readJSONBody(r, &req); err != nil || req.PublicCertPEM == "" {
		writeError(w, exterrors.Validation("INVALID_BODY", "public_cert_pem is required"))
		return
	}
	cert, err := s.Service.AddCertificate(r.Context(), vb, req.Label, req.PublicCertPEM)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": cert.ID, "fingerprint": cert.Fingerprint})
}

type generateCertificateRequest struct {
	CommonName   string `json:"common_name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

func (s *Server) handleGenerateCertificate(w http.ResponseWriter, r *http.Request, p *Principal) {
	var req generateCertificateRequest
	if err := readJSONBody(r, &req); err != nil || req.CommonName == "" || req.Email == "" {
		writeError(w, exterrors.Validation("INVALID_BODY", "common_name and email are required"))
		return
	}
	privPEM, certPEM, err := vaultbox.GenerateStandaloneCertificate(req.CommonName, req.Email, req.Organization)
	if err != nil {
		writeError(w, exterrors.External("api: generating certificate", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"private_key": privPEM, "certificate": certPEM})
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	_ = readJSONBody(r, &req)
	if req.Password == "" {
		req.Password = "changeit"
	}
	bundle, err := s.Service.GenerateCertificateBundle(r.Context(), vb, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeBinary(w, "application/zip", vb.ID+"-bundle.zip", bundle.ZIP)
}

func (s *Server) handleP12(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	certs, err := s.Service.Store.Certificates.Find(r.Context(), "created_at ASC", store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading certificates", err))
		return
	}
	data, err := s.Service.PackageCertificateArchive(certs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeBinary(w, "application/zip", vb.ID+"-certs.zip", data)
}

// --- Aliases ---

func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	aliases, err := s.Service.Store.Aliases.Find(r.Context(), "created_at ASC", store.Eq("vaultbox_id", vb.ID))
	if err != nil {
		writeError(w, exterrors.Transient("api: listing aliases", err))
		return
	}
	writeJSON(w, http.StatusOK, aliases)
}

func (s *Server) handleCreateAlias(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		AliasEmail string `json:"alias_email"`
	}
	if err := readJSONBody(r, &req); err != nil || req.AliasEmail == "" {
		writeError(w, exterrors.Validation("INVALID_BODY", "alias_email is required"))
		return
	}
	localPart, domain, ok := strings.Cut(req.AliasEmail, "@")
	if !ok || !strings.EqualFold(domain, vb.Domain) {
		writeError(w, exterrors.Validation("DOMAIN_MISMATCH", "alias must be on the vaultbox's own domain"))
		return
	}
	alias, err := s.Service.CreateAlias(r.Context(), vb, localPart)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": alias.ID, "alias_email": alias.AliasEmail})
}

func (s *Server) handleDeleteAlias(w http.ResponseWriter, r *http.Request, p *Principal) {
	vb, err := s.loadOwnedVaultbox(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	aliasID := r.PathValue("aliasId")
	alias, ok, err := s.Service.Store.Aliases.FindByID(r.Context(), aliasID)
	if err != nil {
		writeError(w, exterrors.Transient("api: loading alias", err))
		return
	}
	if !ok || alias.VaultboxID != vb.ID {
		writeError(w, exterrors.NotFound("alias not found"))
		return
	}
	if err := s.Service.DeleteAlias(r.Context(), &alias, vb.Domain); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// --- Domains ---

func (s *Server) handleSimpleStatus(w http.ResponseWriter, r *http.Request, p *Principal) {
	domain := strings.ToLower(r.PathValue("domain"))
	simples, err := s.Service.Store.Vaultboxes.Find(r.Context(), "created_at ASC", store.Eq("domain", domain), store.Eq("mailbox_type", model.MailboxSimple))
	if err != nil {
		writeError(w, exterrors.Transient("api: listing simple vaultboxes", err))
		return
	}
	binding, hasBinding, err := s.Service.Store.Catchalls.FindOne(r.Context(), store.Eq("domain", domain))
	if err != nil {
		writeError(w, exterrors.Transient("api: loading catch-all binding", err))
		return
	}
	resp := map[string]interface{}{
		"domain":             domain,
		"simpleCount":        len(simples),
		"catchallEnabled":    hasBinding && binding.Enabled,
		"conversionEligible": len(simples) == 1 && !(hasBinding && binding.Enabled),
		"eligibleVaultboxId": "",
	}
	if len(simples) == 1 {
		resp["eligibleVaultboxId"] = simples[0].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCatchall(w http.ResponseWriter, r *http.Request, p *Principal) {
	domain := strings.ToLower(r.PathValue("domain"))
	var req struct {
		Enabled    bool   `json:"enabled"`
		VaultboxID string `json:"vaultbox_id"`
		Force      bool   `json:"force"`
	}
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, exterrors.Validation("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	if req.Enabled {
		vb, ok, err := s.Service.Store.Vaultboxes.FindByID(r.Context(), req.VaultboxID)
		if err != nil {
			writeError(w, exterrors.Transient("api: loading vaultbox", err))
			return
		}
		if !ok || !p.AuthorizeOwner(vb.OwnerUserID) {
			writeError(w, exterrors.NotFound("vaultbox not found"))
			return
		}
		if err := s.Service.EnableCatchall(r.Context(), domain, req.VaultboxID, req.Force); err != nil {
			writeError(w, err)
			return
		}
	} else {
		if err := s.Service.DisableCatchall(r.Context(), domain); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domain": domain, "enabled": req.Enabled})
}

// --- Usage ---

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, p *Principal) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, exterrors.Validation("MISSING_USER_ID", "user_id query parameter is required"))
		return
	}
	if !p.AuthorizeOwner(userID) {
		writeError(w, exterrors.Unauthorized("caller may not view another user's usage"))
		return
	}
	vbs, err := s.Service.Store.Vaultboxes.Find(r.Context(), "", store.Eq("owner_user_id", userID))
	if err != nil {
		writeError(w, exterrors.Transient("api: listing vaultboxes for usage", err))
		return
	}
	type usageEntry struct {
		VaultboxID   string `json:"vaultbox_id"`
		MessageCount int64  `json:"message_count"`
		TotalBytes   int64  `json:"total_bytes"`
	}
	out := make([]usageEntry, 0, len(vbs))
	for _, vb := range vbs {
		msgs, err := s.Service.Store.Messages.Find(r.Context(), "", store.Eq("vaultbox_id", vb.ID))
		if err != nil {
			writeError(w, exterrors.Transient("api: loading messages for usage", err))
			return
		}
		var total int64
		for _, m := range msgs {
			total += m.SizeBytes
		}
		out = append(out, usageEntry{VaultboxID: vb.ID, MessageCount: int64(len(msgs)), TotalBytes: total})
	}
	writeJSON(w, http.StatusOK, out)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
