package pulsarutils

import (
	"context"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkbarchive/zkb/internal/common/logging"
)

// Receiver is the part of pulsar.Consumer needed to pull messages.
type Receiver interface {
	Receive(ctx context.Context) (pulsar.Message, error)
}

var msgLogger = logrus.NewEntry(logrus.StandardLogger())

// Receive pulls messages from consumer onto the returned channel until ctx is cancelled, at which point the
// channel is closed. Failed receives are reported to onError (which may be nil) and retried after backoffTime.
func Receive(
	ctx context.Context,
	consumer Receiver,
	receiveTimeout time.Duration,
	backoffTime time.Duration,
	onError func(error),
) chan pulsar.Message {
	out := make(chan pulsar.Message)
	go func() {
		defer close(out)

		// Periodically log the number of processed messages.
		logInterval := 60 * time.Second
		lastLogged := time.Now()
		numReceived := 0
		var lastMessageId pulsar.MessageID
		lastPublishTime := time.Now()

		for {
			if time.Since(lastLogged) > logInterval {
				msgLogger.WithFields(
					logrus.Fields{
						"received":      numReceived,
						"interval":      logInterval,
						"lastMessageId": lastMessageId,
						"timeLag":       time.Since(lastPublishTime),
					},
				).Info("message statistics")
				numReceived = 0
				lastLogged = time.Now()
			}

			select {
			case <-ctx.Done():
				msgLogger.Infof("Shutting down pulsar receiver")
				return
			default:
			}

			ctxWithTimeout, cancel := context.WithTimeout(ctx, receiveTimeout)
			msg, err := consumer.Receive(ctxWithTimeout)
			cancel()
			if errors.Is(err, context.DeadlineExceeded) || (err != nil && ctx.Err() != nil) {
				// Either nothing arrived within receiveTimeout or we are shutting down.
				continue
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				logging.
					WithStacktrace(msgLogger, err).
					WithField("lastMessageId", lastMessageId).
					Warnf("Pulsar receive failed; backing off for %s", backoffTime)
				select {
				case <-time.After(backoffTime):
				case <-ctx.Done():
				}
				continue
			}

			numReceived++
			lastPublishTime = msg.PublishTime()
			lastMessageId = msg.ID()
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
