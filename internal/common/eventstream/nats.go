package eventstream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
)

const natsSubscriptionBuffer = 1024

type NatsClient struct {
	conn         *nats.Conn
	flushTimeout time.Duration
}

func NewNatsClient(config commonconfig.NatsConfig, name string) (*NatsClient, error) {
	connTimeout := config.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = nats.DefaultTimeout
	}
	clientName := config.ClientName
	if clientName == "" {
		clientName = uniqueName(name)
	}
	conn, err := nats.Connect(
		strings.Join(config.Servers, ","),
		nats.Name(clientName),
		nats.Timeout(connTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("Reconnected to NATS at %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to NATS servers %v", config.Servers)
	}
	return &NatsClient{conn: conn, flushTimeout: connTimeout}, nil
}

func (c *NatsClient) NewPublisher(topic string) (Publisher, error) {
	return &natsPublisher{client: c, subject: topic}, nil
}

// Subscribe uses a queue group when subscriptionName is set, so that only one member of the group
// receives each message.
func (c *NatsClient) Subscribe(ctx context.Context, topic string, subscriptionName string) (Subscription, error) {
	in := make(chan *nats.Msg, natsSubscriptionBuffer)
	var sub *nats.Subscription
	var err error
	if subscriptionName != "" {
		sub, err = c.conn.ChanQueueSubscribe(topic, subscriptionName, in)
	} else {
		sub, err = c.conn.ChanSubscribe(topic, in)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error subscribing to subject %q", topic)
	}
	s := &natsSubscription{
		sub:  sub,
		in:   in,
		out:  make(chan *Message),
		done: make(chan struct{}),
	}
	go s.forward(ctx)
	return s, nil
}

func (c *NatsClient) Check() error {
	if !c.conn.IsConnected() {
		return errors.New("not connected to NATS")
	}
	return nil
}

func (c *NatsClient) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

type natsPublisher struct {
	client  *NatsClient
	subject string
}

// Publish returns once the server has seen the message, which is as strong a guarantee as core NATS gives.
func (p *natsPublisher) Publish(ctx context.Context, payload []byte) error {
	if err := p.client.conn.Publish(p.subject, payload); err != nil {
		return errors.Wrapf(err, "error when publishing to subject %q", p.subject)
	}
	timeout := p.client.flushTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	return errors.WithStack(p.client.conn.FlushTimeout(timeout))
}

func (p *natsPublisher) Close() {}

type natsSubscription struct {
	sub       *nats.Subscription
	in        chan *nats.Msg
	out       chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *natsSubscription) forward(ctx context.Context) {
	defer close(s.out)
	defer func() {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.WithError(err).Warnf("Failed to unsubscribe from %q", s.sub.Subject)
		}
	}()
	for {
		select {
		case msg := <-s.in:
			select {
			case s.out <- &Message{Payload: msg.Data, PublishTime: time.Now()}:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *natsSubscription) Messages() <-chan *Message {
	return s.out
}

func (s *natsSubscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
