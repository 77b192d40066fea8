package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_submissions_total",
		Help: "Ledger submit transactions by result",
	}, []string{"result"})

	BadgeClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_badge_claims_total",
		Help: "Badge claim transactions by badge and result",
	}, []string{"badge", "result"})

	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_seconds",
		Help:    "Request duration by path",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"path"})

	CoordinatorOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_operations_total",
		Help: "Client operations by kind and outcome",
	}, []string{"kind", "outcome"})
)

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
