package pulsarutils

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
)

func TestClientOptions(t *testing.T) {
	options, err := clientOptions(&commonconfig.PulsarConfig{
		URL:                     "pulsar://pulsarhost:50000",
		MaxConnectionsPerBroker: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "pulsar://pulsarhost:50000", options.URL)
	assert.Equal(t, 10, options.MaxConnectionsPerBroker)
	assert.Nil(t, options.Authentication)
	assert.NotNil(t, options.Logger)
}

func TestNewPulsarClient_WithAuthAndTls(t *testing.T) {
	executable, _ := os.Executable() // any existing file serves as token and certificate

	client, err := NewPulsarClient(&commonconfig.PulsarConfig{
		URL:                        "pulsar://pulsarhost:50000",
		TLSTrustCertsFilePath:      executable,
		TLSAllowInsecureConnection: true,
		TLSValidateHostname:        true,
		AuthenticationEnabled:      true,
		AuthenticationType:         "JWT",
		JwtTokenPath:               executable,
	})
	require.NoError(t, err)
	client.Close()
}

func TestNewPulsarClient_InvalidAuth(t *testing.T) {
	tests := map[string]*commonconfig.PulsarConfig{
		"no auth type":      {AuthenticationEnabled: true},
		"invalid auth type": {AuthenticationEnabled: true, AuthenticationType: "OAUTH2"},
		"no token":          {AuthenticationEnabled: true, AuthenticationType: "JWT"},
	}
	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewPulsarClient(config)
			var e *zkberrors.ErrInvalidArgument
			assert.True(t, errors.As(err, &e), "unexpected error %v", err)
		})
	}
}
