package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// RemoteHealth - рекомендательное состояние каждого remote
	// (1 = UP, 0.5 = UNKNOWN, 0 = DOWN)
	RemoteHealth *prometheus.GaugeVec

	// RequestsTotal - счетчик вызовов бэкендов по исходу
	RequestsTotal *prometheus.CounterVec

	// RequestDuration - длительность вызовов бэкендов
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		RemoteHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3reproxy_remote_health",
				Help: "Advisory health of a remote (1 = UP, 0.5 = UNKNOWN, 0 = DOWN)",
			},
			[]string{"remote"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3reproxy_remote_requests_total",
				Help: "Total number of backend calls per remote and outcome",
			},
			[]string{"remote", "operation", "result"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3reproxy_remote_request_duration_seconds",
				Help:    "Duration of backend calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"remote", "operation"},
		),
	}
}
