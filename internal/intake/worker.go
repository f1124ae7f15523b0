package intake

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/metrics"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

// Worker implements the delivery algorithm of §4.4.
type Worker struct {
	vaultboxes   *store.Repo[model.Vaultbox]
	certificates *store.Repo[model.Certificate]
	messages     *store.Repo[model.Message]
	maildirRoot  string
	log          log.Logger
	metrics      metrics.Collector
}

func NewWorker(vaultboxes *store.Repo[model.Vaultbox], certificates *store.Repo[model.Certificate], messages *store.Repo[model.Message], maildirRoot string, logger log.Logger) *Worker {
	return &Worker{vaultboxes: vaultboxes, certificates: certificates, messages: messages, maildirRoot: maildirRoot, log: logger, metrics: metrics.NoopCollector{}}
}

// WithMetrics attaches a metrics collector, replacing the no-op default.
func (w *Worker) WithMetrics(m metrics.Collector) *Worker {
	w.metrics = m
	return w
}

// Deliver accepts the raw RFC-822 bytes for vaultboxID and performs steps
// 1-7 of §4.4. The returned error, when non-nil, carries a DomainError
// whose Temporary() reports whether the caller (the MTA pipe) should
// retry the delivery.
func (w *Worker) Deliver(ctx context.Context, vaultboxID string, rfc822 []byte) (*model.Message, error) {
	scoped := w.log.With("vaultbox_id", vaultboxID)
	// wrapVB tags every error this delivery returns with the vaultbox id,
	// so a caller logging the error (see internal/intake/http.go,
	// cmd/encimapd's pipe subcommand) gets "vaultbox_id=..." in the
	// output via exterrors.Fields without repeating it at the log call
	// site.
	wrapVB := func(err error) error {
		if err == nil {
			return nil
		}
		return exterrors.WithFields(err, map[string]interface{}{"vaultbox_id": vaultboxID})
	}

	_, ok, err := w.vaultboxes.FindByID(ctx, vaultboxID)
	if err != nil {
		return nil, wrapVB(exterrors.Transient("intake: looking up vaultbox", err))
	}
	if !ok {
		w.metrics.MessageRejected("unknown_vaultbox")
		return nil, wrapVB(exterrors.NotFound("intake: unknown vaultbox " + vaultboxID))
	}

	fromDomain, toAlias := parseEnvelope(rfc822)

	certs, err := w.certificates.Find(ctx, "created_at ASC", store.Eq("vaultbox_id", vaultboxID))
	if err != nil {
		return nil, wrapVB(exterrors.Transient("intake: loading certificates", err))
	}
	if len(certs) == 0 {
		w.metrics.MessageRejected("no_certificates")
		return nil, wrapVB(exterrors.Validation("NO_CERTIFICATES", "vaultbox "+vaultboxID+" has no certificates configured"))
	}

	certPEMs := make([]string, len(certs))
	fingerprints := make([]string, len(certs))
	for i, c := range certs {
		certPEMs[i] = c.PublicCertPEM
		fingerprints[i] = c.Fingerprint
		if fingerprints[i] == "" {
			fingerprints[i], err = fingerprintPEM(c.PublicCertPEM)
			if err != nil {
				return nil, wrapVB(exterrors.Validation("MALFORMED_CERTIFICATE", "certificate "+c.ID+": "+err.Error()))
			}
		}
	}

	ciphertext, err := EncryptSMIME(rfc822, certPEMs)
	if err != nil {
		return nil, wrapVB(err)
	}

	dir := NewMaildir(w.maildirRoot, vaultboxID)
	if err := dir.Init(); err != nil {
		return nil, wrapVB(exterrors.Transient("intake: preparing maildir", err))
	}
	maildirPath, err := dir.Deliver(ciphertext)
	if err != nil {
		return nil, wrapVB(exterrors.Transient("intake: writing maildir", err))
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		VaultboxID: vaultboxID,
		FromDomain: fromDomain,
		ToAlias:    toAlias,
		SizeBytes:  int64(len(ciphertext)),
		Storage: model.JSONStorage{
			MaildirPath: maildirPath,
			Bytes:       int64(len(ciphertext)),
			Alg:         "smime-aes256",
			Recipients:  fingerprints,
		},
	}
	if err := w.messages.Insert(ctx, msg); err != nil {
		// The ciphertext is already durably on disk; the message is
		// considered delivered. Log for reconciliation rather than
		// failing the delivery (§4.4 failure semantics).
		scoped.Error("intake: message delivered but metadata insert failed", err,
			"maildir_path", maildirPath)
		w.metrics.MessageDelivered(msg.SizeBytes)
		return msg, nil
	}
	w.metrics.MessageDelivered(msg.SizeBytes)
	return msg, nil
}

// parseEnvelope extracts From's domain and To's local-part, per §4.4 step
// 2: only the header is parsed, the body is treated as opaque bytes.
func parseEnvelope(rfc822 []byte) (fromDomain, toAlias string) {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(rfc822)))
	if err != nil {
		return "", ""
	}
	fromDomain = domainOf(header.Get("From"))
	toAlias = localPartOf(header.Get("To"))
	return fromDomain, toAlias
}

func domainOf(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	domain := addr[at+1:]
	domain = strings.TrimRight(domain, ">")
	return strings.ToLower(strings.TrimSpace(domain))
}

func localPartOf(addr string) string {
	addr = strings.TrimSpace(addr)
	if lt := strings.LastIndex(addr, "<"); lt >= 0 {
		addr = addr[lt+1:]
		addr = strings.TrimRight(addr, ">")
	}
	at := strings.Index(addr, "@")
	if at < 0 {
		return strings.TrimSpace(addr)
	}
	return strings.TrimSpace(addr[:at])
}

func fingerprintPEM(certPEM string) (string, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return "", fmt.Errorf("not valid PEM")
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return "", err
	}
	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}
