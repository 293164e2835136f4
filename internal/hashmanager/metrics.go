package hashmanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zkbarchive/zkb/internal/common/metrics"
	"github.com/zkbarchive/zkb/internal/protocol"
)

type Metrics struct {
	*metrics.Metrics

	commandsProcessed *prometheus.CounterVec
	hashesReported    prometheus.Counter
	hashesCompleted   prometheus.Counter
	hashesPublished   prometheus.Counter
	queueDepth        prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := metrics.NewMetrics(metrics.HashManagerMetricsPrefix, registerer)
	factory := m.Factory()
	return &Metrics{
		Metrics: m,
		commandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: m.Prefix + "commands_processed",
			Help: "Number of commands processed grouped by command",
		}, []string{"command"}),
		hashesReported: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "hashes_reported",
			Help: "Number of hashes received in daily reports",
		}),
		hashesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "hashes_completed",
			Help: "Number of hashes moved to complete",
		}),
		hashesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "hashes_published",
			Help: "Number of pending hashes handed to the data manager",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: m.Prefix + "queue_depth",
			Help: "Number of commands waiting to be processed",
		}),
	}
}

func (m *Metrics) RecordCommand(kind protocol.CmdKind) {
	m.commandsProcessed.With(map[string]string{"command": string(kind)}).Inc()
}
