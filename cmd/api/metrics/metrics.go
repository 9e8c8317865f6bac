// Package metrics holds the Prometheus instruments for lifecycle operations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DevicesCreatedTotal counts devices created through the registry,
	// batch creation and imports included.
	DevicesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devices_created_total",
		Help: "Number of devices created",
	})

	// AssignmentsOpenedTotal counts assignments opened in the ledger.
	AssignmentsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignments_opened_total",
		Help: "Number of assignments opened",
	})

	// AssignmentsClosedTotal counts assignments closed (returns included).
	AssignmentsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignments_closed_total",
		Help: "Number of assignments closed",
	})

	// PreparationsFinalizedTotal counts successfully finalized
	// preparation requests.
	PreparationsFinalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preparations_finalized_total",
		Help: "Number of preparation requests finalized",
	})

	// RateLimitRejectionsTotal counts requests rejected by the limiter.
	RateLimitRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Number of requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		DevicesCreatedTotal,
		AssignmentsOpenedTotal,
		AssignmentsClosedTotal,
		PreparationsFinalizedTotal,
		RateLimitRejectionsTotal,
	)
}
