// Package metrics exposes operational counters for the vaultbox gateway:
// lifecycle events (C5), intake deliveries (C4), route changes (C2), and
// SMTP auth attempts (C7). Scoped to this domain's events, grounded on
// infodancer-smtpd/internal/metrics's Collector/Server split.
package metrics

import "context"

// Collector records gateway events. Every method is fire-and-forget: a
// nil or NoopCollector is always safe to call.
type Collector interface {
	VaultboxCreated(mailboxType string)
	VaultboxDeleted(mailboxType string)
	MessageDelivered(sizeBytes int64)
	MessageRejected(reason string)
	RouteChanged(op string)
	CredentialIssued(channel string)
	AuthAttempt(credentialType string, success bool)
	// LogLine records one emitted log line, by level, for tracking log
	// volume alongside the event counters above. Wired from
	// framework/log.CountingOutput rather than called directly.
	LogLine(debug bool)
}

// Server exposes recorded metrics over HTTP (typically `/metrics` for
// Prometheus scraping).
type Server interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NoopCollector discards every event. Used when METRICS_PORT is 0 or in
// tests that don't care about observability.
type NoopCollector struct{}

func (NoopCollector) VaultboxCreated(string)       {}
func (NoopCollector) VaultboxDeleted(string)       {}
func (NoopCollector) MessageDelivered(int64)       {}
func (NoopCollector) MessageRejected(string)       {}
func (NoopCollector) RouteChanged(string)          {}
func (NoopCollector) CredentialIssued(string)      {}
func (NoopCollector) AuthAttempt(string, bool)     {}
func (NoopCollector) LogLine(bool)                 {}

// NoopServer never listens on anything.
type NoopServer struct{}

func (NoopServer) Start(ctx context.Context) error    { return nil }
func (NoopServer) Shutdown(ctx context.Context) error { return nil }
