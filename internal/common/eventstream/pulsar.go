package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/pulsarutils"
)

const (
	defaultReceiveTimeout = 5 * time.Second
	defaultBackoffTime    = time.Second
)

type PulsarClient struct {
	client pulsar.Client
	config commonconfig.PulsarConfig
	name   string

	mu     sync.Mutex
	topics []string
}

func NewPulsarClient(config commonconfig.PulsarConfig, name string) (*PulsarClient, error) {
	client, err := pulsarutils.NewPulsarClient(&config)
	if err != nil {
		return nil, err
	}
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = defaultReceiveTimeout
	}
	if config.BackoffTime <= 0 {
		config.BackoffTime = defaultBackoffTime
	}
	return &PulsarClient{client: client, config: config, name: name}, nil
}

func (c *PulsarClient) NewPublisher(topic string) (Publisher, error) {
	producerName := uniqueName(c.name)
	producer, err := c.client.CreateProducer(pulsar.ProducerOptions{
		Name:             producerName,
		Topic:            topic,
		CompressionType:  c.config.CompressionType,
		CompressionLevel: c.config.CompressionLevel,
		SendTimeout:      c.config.SendTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error creating pulsar producer %s", producerName)
	}
	c.rememberTopic(topic)
	return &pulsarPublisher{producer: producer}, nil
}

// Subscribe creates a failover subscription, so a standby instance takes over if the active one goes away.
func (c *PulsarClient) Subscribe(ctx context.Context, topic string, subscriptionName string) (Subscription, error) {
	if subscriptionName == "" {
		subscriptionName = uniqueName(c.name)
	}
	consumer, err := c.client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       topic,
		SubscriptionName:            subscriptionName,
		Type:                        pulsar.Failover,
		SubscriptionInitialPosition: pulsar.SubscriptionPositionLatest,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error subscribing to topic %s", topic)
	}
	c.rememberTopic(topic)

	ctx, cancel := context.WithCancel(ctx)
	s := &pulsarSubscription{
		consumer: consumer,
		out:      make(chan *Message),
		cancel:   cancel,
	}
	msgs := pulsarutils.Receive(ctx, consumer, c.config.ReceiveTimeout, c.config.BackoffTime, nil)
	go s.forward(ctx, msgs)
	return s, nil
}

// Check looks up the partitions of a topic in use, which requires a working broker connection.
func (c *PulsarClient) Check() error {
	c.mu.Lock()
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()
	if len(topics) == 0 {
		return nil
	}
	_, err := c.client.TopicPartitions(topics[0])
	return errors.Wrap(err, "pulsar broker unavailable")
}

func (c *PulsarClient) Close() {
	c.client.Close()
}

func (c *PulsarClient) rememberTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
}

type pulsarPublisher struct {
	producer pulsar.Producer
}

func (p *pulsarPublisher) Publish(ctx context.Context, payload []byte) error {
	_, err := p.producer.Send(ctx, &pulsar.ProducerMessage{Payload: payload})
	return errors.Wrapf(err, "error publishing to topic %s", p.producer.Topic())
}

func (p *pulsarPublisher) Close() {
	p.producer.Close()
}

type pulsarSubscription struct {
	consumer pulsar.Consumer
	out      chan *Message
	cancel   context.CancelFunc
}

func (s *pulsarSubscription) forward(ctx context.Context, msgs chan pulsar.Message) {
	defer s.consumer.Close()
	defer close(s.out)
	for msg := range msgs {
		msg := msg
		m := &Message{
			Payload:     msg.Payload(),
			PublishTime: msg.PublishTime(),
			ack:         func() { s.consumer.Ack(msg) },
		}
		select {
		case s.out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *pulsarSubscription) Messages() <-chan *Message {
	return s.out
}

func (s *pulsarSubscription) Close() {
	s.cancel()
}
