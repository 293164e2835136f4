// Package eventstream is the message bus used between the pipeline processes.
//
// Topics are broadcast: every subscription receives every message published after it was created.
// Messages carry no ordering guarantee across publishers; within one publisher and one subscription
// they are delivered in publish order.
package eventstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
)

// Message is one payload read from a topic.
type Message struct {
	Payload     []byte
	PublishTime time.Time
	ack         func()
}

// Ack acknowledges the message to the broker. Receivers ack on receipt, so delivery is at most once.
func (m *Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

type Publisher interface {
	// Publish blocks until the broker has accepted the payload or ctx is done.
	Publish(ctx context.Context, payload []byte) error
	Close()
}

type Subscription interface {
	// Messages is closed once the subscription is closed or the context it was created with is done.
	Messages() <-chan *Message
	Close()
}

type Client interface {
	NewPublisher(topic string) (Publisher, error)
	Subscribe(ctx context.Context, topic string, subscriptionName string) (Subscription, error)
	// Check reports whether the client is connected; used for health checks.
	Check() error
	Close()
}

// NewClient connects to the broker selected by config. name identifies the process to the broker.
func NewClient(config commonconfig.BusConfig, name string) (Client, error) {
	switch config.Type {
	case commonconfig.BusTypePulsar:
		return NewPulsarClient(config.Pulsar, name)
	case commonconfig.BusTypeNats:
		return NewNatsClient(config.Nats, name)
	default:
		return nil, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "bus.Type",
			Value:   config.Type,
			Message: "supported message buses are pulsar and nats",
		})
	}
}

// uniqueName returns a name for a producer or connection that can't clash with another process instance.
func uniqueName(name string) string {
	return fmt.Sprintf("%s-%s", name, uuid.New())
}
