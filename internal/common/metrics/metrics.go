package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	DBOperation  string
	MessageError string
)

const (
	DBOperationRead   DBOperation = "read"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"

	MessageErrorDeserialization MessageError = "deserialization"
	MessageErrorProcessing      MessageError = "processing"
	MessageErrorPublish         MessageError = "publish"
)

const (
	HashManagerMetricsPrefix    = "zkb_hashmanager_"
	DataManagerMetricsPrefix    = "zkb_datamanager_"
	HistoryFetcherMetricsPrefix = "zkb_historyfetcher_"
	KillstreamMetricsPrefix     = "zkb_killstream_"
)

// Metrics are the error counters every pipeline component exposes. Component specific metrics are
// created with the same prefix and registerer.
type Metrics struct {
	Prefix     string
	Registerer prometheus.Registerer

	dbErrorsCounter *prometheus.CounterVec
	messageErrors   *prometheus.CounterVec
}

func NewMetrics(prefix string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Prefix:     prefix,
		Registerer: registerer,
		dbErrorsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "db_errors",
			Help: "Number of database errors grouped by database operation",
		}, []string{"operation"}),
		messageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "message_errors",
			Help: "Number of message errors grouped by error type",
		}, []string{"error"}),
	}
}

// Factory returns a promauto factory registering with the same registerer as m.
func (m *Metrics) Factory() promauto.Factory {
	return promauto.With(m.Registerer)
}

func (m *Metrics) RecordDBError(operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"operation": string(operation)}).Inc()
}

func (m *Metrics) RecordMessageError(error MessageError) {
	m.messageErrors.With(map[string]string{"error": string(error)}).Inc()
}
