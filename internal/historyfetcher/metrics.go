package historyfetcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zkbarchive/zkb/internal/common/metrics"
)

type Metrics struct {
	*metrics.Metrics

	reportsPublished prometheus.Counter
	hashesPublished  prometheus.Counter
	daysFailed       prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := metrics.NewMetrics(metrics.HistoryFetcherMetricsPrefix, registerer)
	factory := m.Factory()
	return &Metrics{
		Metrics: m,
		reportsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "reports_published",
			Help: "Number of daily reports published",
		}),
		hashesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "hashes_published",
			Help: "Number of killmail hashes published in daily reports",
		}),
		daysFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "days_failed",
			Help: "Number of days whose history could not be fetched or published",
		}),
	}
}
