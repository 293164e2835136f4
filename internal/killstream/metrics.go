package killstream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zkbarchive/zkb/internal/common/metrics"
)

type Metrics struct {
	*metrics.Metrics

	killmailsPublished prometheus.Counter
	duplicates         prometheus.Counter
	reconnects         prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := metrics.NewMetrics(metrics.KillstreamMetricsPrefix, registerer)
	factory := m.Factory()
	return &Metrics{
		Metrics: m,
		killmailsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "killmails_published",
			Help: "Number of live killmails published to the data topic",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "duplicates",
			Help: "Number of killmails dropped because they were relayed recently",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: m.Prefix + "reconnects",
			Help: "Number of times the websocket was reconnected",
		}),
	}
}
