// Package metrics exposes Prometheus counters/gauges/histograms for the
// interceptor, grounded on the teacher's internal/proxy/metrics.go.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveInterceptions tracks current live parent interceptions.
	ActiveInterceptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sslproxy_active_interceptions",
		Help: "Current active parent interceptions",
	})

	// ActiveChildren tracks current live mirror-child connections.
	ActiveChildren = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sslproxy_active_children",
		Help: "Current active mirror-child connections",
	})

	// BytesTotal counts bytes relayed by direction ("up"/"down") and
	// endpoint pair ("client_dst"/"parent_mirror"/"child_mirror").
	BytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslproxy_bytes_total",
		Help: "Total bytes relayed",
	}, []string{"pair", "direction"})

	// TeardownTotal counts completed teardowns by reason.
	TeardownTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslproxy_teardown_total",
		Help: "Total interceptions torn down, by reason",
	}, []string{"reason"})

	// ForgeCacheTotal counts forge cache lookups by outcome.
	ForgeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslproxy_forge_cache_total",
		Help: "Certificate forge cache lookups by outcome",
	}, []string{"cache", "outcome"})

	// OCSPDeniedTotal counts OCSP requests denied.
	OCSPDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslproxy_ocsp_denied_total",
		Help: "Total OCSP requests denied with tryLater",
	})

	// AutosslUpgradeTotal counts successful in-band TLS upgrades.
	AutosslUpgradeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslproxy_autossl_upgrade_total",
		Help: "Total plaintext connections upgraded to TLS in-band",
	})

	// ConnectionDuration tracks interception duration in seconds.
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sslproxy_connection_duration_seconds",
		Help:    "Interception duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ErrorsTotal counts errors by kind, per the §7 error table.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslproxy_errors_total",
		Help: "Total errors by kind",
	}, []string{"kind"})
)

// Server wraps the HTTP server exposing /metrics.
type Server struct {
	server *http.Server
}

// NewServer creates a new metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start begins serving metrics (non-blocking).
func (s *Server) Start(onError func(error)) {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			onError(err)
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
