package configuration

import (
	"time"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
)

type KillstreamConfiguration struct {
	// Message bus configuration
	Bus commonconfig.BusConfig
	// Port serving /metrics and /health; 0 disables the server
	MetricsPort uint16
	// zKillboard websocket, e.g. wss://zkillboard.com/websocket/
	WebsocketURL string `validate:"required,url"`
	// Channel subscribed to after connecting
	Channel string `validate:"required"`
	// Delay before the first reconnect; doubled after every failed attempt
	ReconnectDelay time.Duration `validate:"gt=0"`
	// Upper bound of the delay between reconnects
	MaxReconnectDelay time.Duration `validate:"gtefield=ReconnectDelay"`
	// Time allowed for the websocket handshake
	HandshakeTimeout time.Duration
	// Number of recently relayed killmail ids remembered to drop duplicates
	DedupCacheSize int `validate:"gt=0"`
	// Delay between attempts to publish a killmail while the bus is unavailable
	PublishRetryDelay time.Duration
}
