package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const memorySubscriptionBuffer = 1024

// MemoryClient is an in-process bus. It also records everything published so tests can inspect it.
type MemoryClient struct {
	mu            sync.Mutex
	subscriptions map[string][]*memorySubscription
	published     map[string][][]byte
	closed        bool
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		subscriptions: map[string][]*memorySubscription{},
		published:     map[string][][]byte{},
	}
}

func (c *MemoryClient) NewPublisher(topic string) (Publisher, error) {
	return &memoryPublisher{client: c, topic: topic}, nil
}

func (c *MemoryClient) Subscribe(ctx context.Context, topic string, _ string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("memory client is closed")
	}
	sub := &memorySubscription{
		in:   make(chan *Message, memorySubscriptionBuffer),
		out:  make(chan *Message),
		done: make(chan struct{}),
	}
	c.subscriptions[topic] = append(c.subscriptions[topic], sub)
	go sub.forward(ctx)
	return sub, nil
}

// Published returns a copy of every payload published on topic so far.
func (c *MemoryClient) Published(topic string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.published[topic]...)
}

// SubscriberCount returns the number of open subscriptions on topic.
func (c *MemoryClient) SubscriberCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, sub := range c.subscriptions[topic] {
		select {
		case <-sub.done:
		default:
			count++
		}
	}
	return count
}

func (c *MemoryClient) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("memory client is closed")
	}
	return nil
}

func (c *MemoryClient) Close() {
	c.mu.Lock()
	subscriptions := c.subscriptions
	c.subscriptions = map[string][]*memorySubscription{}
	c.closed = true
	c.mu.Unlock()

	for _, subs := range subscriptions {
		for _, sub := range subs {
			sub.Close()
		}
	}
}

func (c *MemoryClient) publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("memory client is closed")
	}
	c.published[topic] = append(c.published[topic], payload)
	subs := append([]*memorySubscription(nil), c.subscriptions[topic]...)
	c.mu.Unlock()

	now := time.Now()
	for _, sub := range subs {
		select {
		case sub.in <- &Message{Payload: payload, PublishTime: now}:
		case <-sub.done:
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
	return nil
}

type memoryPublisher struct {
	client *MemoryClient
	topic  string
}

func (p *memoryPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.client.publish(ctx, p.topic, append([]byte(nil), payload...))
}

func (p *memoryPublisher) Close() {}

type memorySubscription struct {
	in        chan *Message
	out       chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) forward(ctx context.Context) {
	defer close(s.out)
	// Publishers stop delivering to a subscription once done is closed.
	defer s.Close()
	for {
		select {
		case msg := <-s.in:
			select {
			case s.out <- msg:
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

func (s *memorySubscription) Messages() <-chan *Message {
	return s.out
}

func (s *memorySubscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
