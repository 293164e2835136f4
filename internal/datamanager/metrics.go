package datamanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zkbarchive/zkb/internal/common/metrics"
)

type batchOutcome string

const (
	batchAccepted  batchOutcome = "accepted"
	batchRejected  batchOutcome = "rejected"
	batchAbandoned batchOutcome = "abandoned"

	pathBatch = "batch"
	pathLive  = "live"
)

type Metrics struct {
	*metrics.Metrics

	batches          *prometheus.CounterVec
	fetchRetries     prometheus.Counter
	killmailsStored  *prometheus.CounterVec
	invalidKillmails prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := metrics.NewMetrics(metrics.DataManagerMetricsPrefix, registerer)
	factory := m.Factory()
	return &Metrics{
		Metrics: m,
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: m.Prefix + "batches",
			Help: "Number of hash batches handled grouped by outcome",
		}, []string{"outcome"}),
		fetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "fetch_retries",
			Help: "Number of retried killmail fetches",
		}),
		killmailsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: m.Prefix + "killmails_stored",
			Help: "Number of killmails written grouped by ingestion path",
		}, []string{"path"}),
		invalidKillmails: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "invalid_killmails",
			Help: "Number of live killmails skipped because their metadata was missing or malformed",
		}),
	}
}

func (m *Metrics) RecordBatch(outcome batchOutcome) {
	m.batches.With(map[string]string{"outcome": string(outcome)}).Inc()
}

func (m *Metrics) RecordStored(path string, count int) {
	m.killmailsStored.With(map[string]string{"path": path}).Add(float64(count))
}
