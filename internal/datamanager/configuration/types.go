package configuration

import (
	"time"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/datamanager/esi"
)

type DataManagerConfiguration struct {
	// Message bus configuration
	Bus commonconfig.BusConfig
	// Database holding the killmails and participants tables
	Database commonconfig.DatabaseConfig
	// Subscription name on the data topic
	SubscriptionName string `validate:"required"`
	// Port serving /metrics and /health; 0 disables the server
	MetricsPort uint16
	// Number of hashes requested from the hash manager at a time
	BatchSize uint32 `validate:"gt=0"`
	// A batch is only stored if at least one killmail happened after this instant
	UpdateDate time.Time
	// Number of killmails of a batch fetched concurrently; 0 fetches the whole batch at once
	MaxConcurrentFetches int `validate:"gte=0"`
	// Time to wait before asking for more hashes after a batch could not be fetched
	AbandonedBatchDelay time.Duration
	// ESI client configuration
	Esi esi.Config
}
