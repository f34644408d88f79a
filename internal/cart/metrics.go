package cart

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/semilia/storefront/internal/domain"
)

const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Cart operations by operation, session mode and outcome.",
		},
		[]string{"operation", "mode", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_cart_operation_duration_seconds",
			Help:    "Cart operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "mode"},
	)

	syncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_sync_items_total",
			Help: "Guest cart lines pushed to the account cart during sync, by outcome.",
		},
		[]string{"outcome"},
	)
)

func observe(op string, mode domain.Mode, start time.Time, err error) {
	outcome := outcomeSuccess
	switch {
	case isRejection(err):
		outcome = outcomeRejected
	case err != nil:
		outcome = outcomeError
	}
	operationsTotal.WithLabelValues(op, mode.String(), outcome).Inc()
	operationDuration.WithLabelValues(op, mode.String()).Observe(time.Since(start).Seconds())
}
