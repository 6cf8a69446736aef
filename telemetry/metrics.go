// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinksIssued        prometheus.Counter
	LinksClaimed       prometheus.Counter
	LinkClaimsRejected prometheus.Counter
	PendingLinksPurged prometheus.Counter
	CommandsHandled    prometheus.Counter
	CommandErrors      prometheus.Counter

	// Histograms (seconds)
	ProviderRequestDuration prometheus.Observer

	// Gauges
	PendingLinksGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinksIssued = promauto.NewCounter(prometheus.CounterOpts{Name: "fmbot_links_issued_total", Help: "Number of pending link codes issued"})
		LinksClaimed = promauto.NewCounter(prometheus.CounterOpts{Name: "fmbot_links_claimed_total", Help: "Number of link codes successfully claimed"})
		LinkClaimsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "fmbot_link_claims_rejected_total", Help: "Number of claim attempts with unknown or expired codes"})
		PendingLinksPurged = promauto.NewCounter(prometheus.CounterOpts{Name: "fmbot_pending_links_purged_total", Help: "Number of expired pending links removed by the purge job"})
		CommandsHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "fmbot_commands_handled_total", Help: "Number of recognized chat commands handled"})
		CommandErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "fmbot_command_errors_total", Help: "Number of chat commands that ended in the generic apology reply"})
		ProviderRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "fmbot_provider_request_duration_seconds", Help: "Last.fm API request duration seconds", Buckets: prometheus.DefBuckets})
		PendingLinksGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "fmbot_pending_links", Help: "Current number of unexpired pending links"})
	})
}

// SetPendingLinks records the current pending link count.
func SetPendingLinks(n int) {
	if PendingLinksGauge != nil {
		PendingLinksGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
