package pulsarutils

import (
	"strings"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/logging"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
)

const (
	authenticationTypeJwt = "jwt"
	operationTimeout      = 30 * time.Second
)

// NewPulsarClient connects to the broker described by config. Broker logs go through logrus.
func NewPulsarClient(config *commonconfig.PulsarConfig) (pulsar.Client, error) {
	options, err := clientOptions(config)
	if err != nil {
		return nil, err
	}
	client, err := pulsar.NewClient(options)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating pulsar client for %s", config.URL)
	}
	return client, nil
}

func clientOptions(config *commonconfig.PulsarConfig) (pulsar.ClientOptions, error) {
	options := pulsar.ClientOptions{
		URL:                        config.URL,
		OperationTimeout:           operationTimeout,
		TLSTrustCertsFilePath:      config.TLSTrustCertsFilePath,
		TLSValidateHostname:        config.TLSValidateHostname,
		TLSAllowInsecureConnection: config.TLSAllowInsecureConnection,
		MaxConnectionsPerBroker:    config.MaxConnectionsPerBroker,
		Logger:                     logging.NewPulsarLogger(),
	}
	if !config.AuthenticationEnabled {
		return options, nil
	}

	if strings.ToLower(config.AuthenticationType) != authenticationTypeJwt {
		return options, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "pulsar.AuthenticationType",
			Value:   config.AuthenticationType,
			Message: "only JWT authentication is supported",
		})
	}
	if strings.TrimSpace(config.JwtTokenPath) == "" {
		return options, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "pulsar.JwtTokenPath",
			Value:   config.JwtTokenPath,
			Message: "JWT authentication requires a token file",
		})
	}
	options.Authentication = pulsar.NewAuthenticationTokenFromFile(config.JwtTokenPath)
	return options, nil
}
