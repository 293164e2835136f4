package configuration

import (
	"time"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
)

type HashManagerConfiguration struct {
	// Message bus configuration
	Bus commonconfig.BusConfig
	// Database holding the hashes table
	Database commonconfig.DatabaseConfig
	// Subscription name on the command topic
	SubscriptionName string `validate:"required"`
	// Port serving /metrics and /health; 0 disables the server
	MetricsPort uint16
	// How often queue statistics are logged
	StatsInterval time.Duration `validate:"gt=0"`
}
