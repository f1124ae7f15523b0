package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves /metrics for Prometheus scraping, grounded on
// infodancer-smtpd/internal/metrics's Server interface (Start blocks
// until the context is canceled, Shutdown is graceful).
type HTTPServer struct {
	addr   string
	srv    *http.Server
}

// NewHTTPServer builds a server exposing reg's metrics at addr (":9101"
// by default, per §6's METRICS_PORT).
func NewHTTPServer(addr string, reg *prometheus.Registry) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &HTTPServer{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

func (s *HTTPServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// New builds a Collector/Server pair. enabled=false returns no-ops,
// matching the teacher pattern's cfg.Enabled switch.
func New(enabled bool, addr string) (Collector, Server) {
	if !enabled {
		return NoopCollector{}, NoopServer{}
	}
	reg := prometheus.NewRegistry()
	return NewPrometheusCollector(reg), NewHTTPServer(addr, reg)
}
