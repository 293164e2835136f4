package config

import (
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
)

const (
	BusTypePulsar = "pulsar"
	BusTypeNats   = "nats"

	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

type BusConfig struct {
	// Message broker to use; either pulsar or nats
	Type string `validate:"oneof=pulsar nats"`
	// Topic carrying commands addressed to the hash manager
	CommandTopic string `validate:"required"`
	// Topic carrying hashes to handle and killmails to store
	DataTopic string `validate:"required"`
	Pulsar    PulsarConfig
	Nats      NatsConfig
}

type PulsarConfig struct {
	// Pulsar URL
	URL string
	// Path to the trusted TLS certificate file (must exist)
	TLSTrustCertsFilePath string
	// Whether Pulsar client accept untrusted TLS certificate from broker
	TLSAllowInsecureConnection bool
	// Whether the Pulsar client will validate the hostname in the broker's TLS Cert matches the actual hostname.
	TLSValidateHostname bool
	// Max number of connections to a single broker that will be kept in the pool. (Default: 1 connection)
	MaxConnectionsPerBroker int
	// Whether Pulsar authentication is enabled
	AuthenticationEnabled bool
	// Authentication type. For now only "JWT" auth is valid
	AuthenticationType string
	// Path to the JWT token (must exist). This must be set if AuthenticationType is "JWT"
	JwtTokenPath string
	// Compression to use.  Valid values are "None", "LZ4", "Zlib", "Zstd".  Default is "None"
	CompressionType pulsar.CompressionType
	// Compression Level to use.  Valid values are "Default", "Better", "Faster".  Default is "Default"
	CompressionLevel pulsar.CompressionLevel
	// Timeout of a single send before the producer reports a failure
	SendTimeout time.Duration
	// Time to wait for a message before checking whether the receiver has been cancelled
	ReceiveTimeout time.Duration
	// Time to back off after a failed receive
	BackoffTime time.Duration
}

type NatsConfig struct {
	Servers     []string
	ClientName  string
	ConnTimeout time.Duration
}

type DatabaseConfig struct {
	// Either sqlite or postgres
	Driver string `validate:"oneof=sqlite postgres"`
	// Database file for sqlite; ":memory:" keeps everything in memory
	Path string
	// libpq style connection parameters for postgres, e.g. host, port, user, password, dbname
	Connection map[string]string
	// Maximum number of open connections (postgres only; sqlite always uses a single connection)
	MaxOpenConns int
}
