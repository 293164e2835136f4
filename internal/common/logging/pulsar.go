package logging

import (
	pulsarlog "github.com/apache/pulsar-client-go/pulsar/log"
	"github.com/sirupsen/logrus"
)

// NewPulsarLogger returns a pulsar client logger that writes through the standard logrus logger.
func NewPulsarLogger() pulsarlog.Logger {
	return pulsarlog.NewLoggerWithLogrus(logrus.StandardLogger())
}
