package configuration

import (
	"time"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
)

type HistoryFetcherConfiguration struct {
	// Message bus configuration
	Bus commonconfig.BusConfig
	// zKillboard api configuration
	Zkb ZkbConfig
	// Port serving /metrics and /health while fetching; 0 disables the server
	MetricsPort uint16
	// Number of days fetched concurrently
	Concurrency int `validate:"gt=0"`
	// Largest number of killmails sent in one report; larger days are split
	MaxReportSize int `validate:"gt=0"`
	// Delay before the single retry of a failed publish
	PublishRetryDelay time.Duration
	// Count of the RequestLastHashes sent after all reports, to wake the data manager; 0 sends none
	RequestAfterReports uint32
}

type ZkbConfig struct {
	// Base url of zKillboard, e.g. https://zkillboard.com
	BaseURL        string `validate:"required,url"`
	UserAgent      string
	RequestTimeout time.Duration
}
