// Package vaultbox implements the mailbox lifecycle service (C5): it
// composes the persistence layer (C1), the MTA router (C2), the
// credential issuer (C3), and the intake worker's Maildir primitives (C4)
// into the transactional use-cases of §4.5, enforcing every cross-entity
// invariant named in §3.
package vaultbox

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/credential"
	"github.com/motorical/encimap/internal/intake"
	"github.com/motorical/encimap/internal/metrics"
	"github.com/motorical/encimap/internal/mta"
	"github.com/motorical/encimap/internal/store"
)

const maxAliasesPerVaultbox = 5

// Service is the composition root for C5: a statically-typed struct
// wired at startup, replacing the source's runtime adapter lookup
// (§9's redesign note).
type Service struct {
	Store       *store.Store
	Router      *mta.Router
	Issuer      *credential.Issuer
	MaildirRoot string
	Log         log.Logger
	Metrics     metrics.Collector
}

func NewService(s *store.Store, router *mta.Router, issuer *credential.Issuer, maildirRoot string, logger log.Logger) *Service {
	return &Service{Store: s, Router: router, Issuer: issuer, MaildirRoot: maildirRoot, Log: logger, Metrics: metrics.NoopCollector{}}
}

// WithMetrics attaches a metrics collector, replacing the no-op default.
func (s *Service) WithMetrics(m metrics.Collector) *Service {
	s.Metrics = m
	return s
}

func (s *Service) maildirFor(key string) *intake.Maildir {
	return intake.NewMaildir(s.MaildirRoot, key)
}

// recordInconsistency logs a compensation failure for operator
// reconciliation instead of silently swallowing it, per §4.5.6 and §7.
// "retryable" tells the operator whether the next mutation on the same
// route/credential is likely to clear it on its own (e.g. a reload that
// timed out) or needs manual intervention (e.g. the MTA rejected the map).
func (s *Service) recordInconsistency(msg string, err error, fields ...interface{}) {
	allFields := append(append([]interface{}{}, fields...), "retryable", exterrors.IsTemporaryOrUnspec(err))
	s.Log.Error("vaultbox: "+msg, exterrors.Inconsistency(msg, err), allFields...)
}

func removeMaildirTree(maildirRoot, key string) error {
	path := filepath.Join(maildirRoot, key)
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func newVaultboxID() string { return uuid.NewString() }
