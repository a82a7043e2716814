// Package metrics provides Prometheus instrumentation for the settlement service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settlement attempts by outcome
	// (settled, duplicate, amount_mismatch, sold_out, unknown, error).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_total",
		Help: "Settlement attempts by outcome",
	}, []string{"outcome"})

	// LedgerEntriesTotal counts appended ledger entries by type.
	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_ledger_entries_total",
		Help: "Ledger entries appended, by entry type",
	}, []string{"type"})

	// SweepRuns counts maturity sweep executions.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_maturity_sweeps_total",
		Help: "Maturity sweep runs",
	})

	// SweepReleases counts organizer balances promoted to available.
	SweepReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_maturity_releases_total",
		Help: "Organizer balances promoted from pending to available",
	})

	// WithdrawalsTotal counts withdrawal transitions by outcome
	// (requested, completed, processing, failed, rolled_back).
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawals_total",
		Help: "Withdrawal transitions by outcome",
	}, []string{"outcome"})

	// CheckInConflicts counts check-ins rejected because the ticket was
	// already redeemed.
	CheckInConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_checkin_conflicts_total",
		Help: "Check-in attempts that lost the redemption race",
	})

	// WebhookRejections counts webhooks dropped for bad signatures.
	WebhookRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_webhook_rejections_total",
		Help: "Webhook deliveries rejected for missing or invalid signatures",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
