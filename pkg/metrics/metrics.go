package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "jotion", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "jotion", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "jotion", Name: "document_operations_total", Help: "Document tree operations by operation and result."},
		[]string{"op", "result"},
	)
	CascadeJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "jotion", Name: "cascade_jobs_total", Help: "Finished archive/restore/delete cascades by kind and status."},
		[]string{"kind", "status"},
	)
	CascadeNodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "jotion", Name: "cascade_documents_updated_total", Help: "Descendant documents touched by cascades."},
		[]string{"kind"},
	)
	CascadesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "jotion", Name: "cascades_in_flight", Help: "Cascade walks currently running."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentOps)
	reg.MustRegister(CascadeJobs)
	reg.MustRegister(CascadeNodes)
	reg.MustRegister(CascadesInFlight)
}

// ObserveOp records one document operation; err == nil counts as "ok".
func ObserveOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DocumentOps.WithLabelValues(op, result).Inc()
}
