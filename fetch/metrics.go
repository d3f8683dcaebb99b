package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// ProbesTotal - попытки чтения по remote и исходу
	ProbesTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3reproxy_fetch_probes_total",
				Help: "Read probes per remote and outcome (hit, service_error, skipped)",
			},
			[]string{"remote", "operation", "outcome"},
		),
	}
}
