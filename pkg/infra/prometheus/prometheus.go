package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	ThreatsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "editguard_threats_total",
			Help: "Total number of threat events recorded",
		},
		[]string{"type", "severity"},
	)

	ValidationsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "editguard_validations_total",
			Help: "Total number of input validations by outcome",
		},
		[]string{"outcome"}, // valid or invalid
	)

	RateLimitDenials = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "editguard_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	ViolationsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "editguard_csp_violations_total",
			Help: "Total number of CSP violations ingested",
		},
		[]string{"directive", "browser"},
	)

	AlertsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "editguard_alerts_total",
			Help: "Total number of security alerts raised",
		},
		[]string{"type"},
	)

	ReportFlushes = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "editguard_report_flushes_total",
			Help: "Total number of violation report flushes by outcome",
		},
		[]string{"outcome"}, // success, failure or rejected
	)

	PendingReports = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "editguard_pending_reports",
			Help: "Number of violation reports queued for flush",
		},
	)

	NonceRotations = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "editguard_nonce_rotations_total",
			Help: "Total number of nonce rotations performed",
		},
	)
)

// Registry exposes the private registry so hosts can mount it on their
// own metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
