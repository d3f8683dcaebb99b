package replicator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// ReplicationsTotal - количество операций записи по исходу
	ReplicationsTotal *prometheus.CounterVec

	// InconsistencyTotal - расхождения результатов между бэкендами
	InconsistencyTotal *prometheus.CounterVec

	// FirstByteLatency - время от начала операции до первого байта тела
	FirstByteLatency prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		ReplicationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3reproxy_replicator_operations_total",
				Help: "Total number of replicated write operations",
			},
			[]string{"operation", "result"},
		),
		InconsistencyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3reproxy_replicator_inconsistencies_total",
				Help: "Write operations that diverged on a remote while others succeeded",
			},
			[]string{"remote", "operation"},
		),
		FirstByteLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "s3reproxy_replicator_first_byte_seconds",
				Help:    "Time until the first byte of the request body arrived",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}
