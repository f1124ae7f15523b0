package metrics

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector implements Collector using Prometheus metrics,
// grounded on infodancer-smtpd/internal/metrics's PrometheusCollector
// (same CounterVec-per-dimension shape, one registration call).
type PrometheusCollector struct {
	vaultboxesCreatedTotal *prometheus.CounterVec
	vaultboxesDeletedTotal *prometheus.CounterVec
	messagesDeliveredTotal prometheus.Counter
	messagesSizeBytes      prometheus.Histogram
	messagesRejectedTotal  *prometheus.CounterVec
	routeChangesTotal      *prometheus.CounterVec
	credentialsIssuedTotal *prometheus.CounterVec
	authAttemptsTotal      *prometheus.CounterVec
	logLinesTotal          *prometheus.CounterVec
}

// NewPrometheusCollector builds and registers every metric against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		vaultboxesCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_vaultboxes_created_total",
			Help: "Total number of vaultboxes created, by mailbox type.",
		}, []string{"mailbox_type"}),
		vaultboxesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_vaultboxes_deleted_total",
			Help: "Total number of vaultboxes deleted, by mailbox type.",
		}, []string{"mailbox_type"}),
		messagesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encimap_messages_delivered_total",
			Help: "Total number of messages encrypted and delivered to a Maildir.",
		}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "encimap_messages_size_bytes",
			Help:    "Size in bytes of delivered ciphertext messages.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400},
		}),
		messagesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_messages_rejected_total",
			Help: "Total number of intake deliveries rejected, by reason.",
		}, []string{"reason"}),
		routeChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_route_changes_total",
			Help: "Total number of transport map mutations, by operation.",
		}, []string{"op"}),
		credentialsIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_credentials_issued_total",
			Help: "Total number of credentials issued, by channel.",
		}, []string{"channel"}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_smtp_auth_attempts_total",
			Help: "Total number of unified SMTP auth attempts, by credential type and result.",
		}, []string{"credential_type", "result"}),
		logLinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encimap_log_lines_total",
			Help: "Total number of log lines emitted, by level.",
		}, []string{"level"}),
	}

	reg.MustRegister(
		c.vaultboxesCreatedTotal,
		c.vaultboxesDeletedTotal,
		c.messagesDeliveredTotal,
		c.messagesSizeBytes,
		c.messagesRejectedTotal,
		c.routeChangesTotal,
		c.credentialsIssuedTotal,
		c.authAttemptsTotal,
		c.logLinesTotal,
	)
	return c
}

func (c *PrometheusCollector) VaultboxCreated(mailboxType string) {
	c.vaultboxesCreatedTotal.WithLabelValues(mailboxType).Inc()
}

func (c *PrometheusCollector) VaultboxDeleted(mailboxType string) {
	c.vaultboxesDeletedTotal.WithLabelValues(mailboxType).Inc()
}

func (c *PrometheusCollector) MessageDelivered(sizeBytes int64) {
	c.messagesDeliveredTotal.Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) MessageRejected(reason string) {
	c.messagesRejectedTotal.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) RouteChanged(op string) {
	c.routeChangesTotal.WithLabelValues(op).Inc()
}

func (c *PrometheusCollector) CredentialIssued(channel string) {
	c.credentialsIssuedTotal.WithLabelValues(channel).Inc()
}

func (c *PrometheusCollector) AuthAttempt(credentialType string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(credentialType, result).Inc()
}

func (c *PrometheusCollector) LogLine(debug bool) {
	level := "info"
	if debug {
		level = "debug"
	}
	c.logLinesTotal.WithLabelValues(level).Inc()
}
