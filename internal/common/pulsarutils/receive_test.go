package pulsarutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type mockMessageId struct {
	pulsar.MessageID
	id int
}

type mockPulsarMessage struct {
	pulsar.Message
	messageId   pulsar.MessageID
	payload     []byte
	publishTime time.Time
}

func newPulsarMessage(id int, payload []byte) mockPulsarMessage {
	return mockPulsarMessage{messageId: mockMessageId{id: id}, payload: payload, publishTime: time.Now()}
}

func (m mockPulsarMessage) ID() pulsar.MessageID { return m.messageId }
func (m mockPulsarMessage) Payload() []byte { return m.payload }
func (m mockPulsarMessage) PublishTime() time.Time { return m.publishTime }

type mockReceiver struct {
	mu       sync.Mutex
	results  []interface{} // pulsar.Message or error
	received int
}

func (r *mockReceiver) Receive(ctx context.Context) (pulsar.Message, error) {
	r.mu.Lock()
	if len(r.results) == 0 {
		r.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := r.results[0]
	r.results = r.results[1:]
	r.received++
	r.mu.Unlock()

	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(pulsar.Message), nil
}

func TestReceive(t *testing.T) {
	msgs := []pulsar.Message{
		newPulsarMessage(1, []byte{1}),
		newPulsarMessage(2, []byte{2}),
		newPulsarMessage(3, []byte{3}),
	}
	receiver := &mockReceiver{results: []interface{}{msgs[0], errors.New("connection reset"), msgs[1], msgs[2]}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errorCount := 0
	out := Receive(ctx, receiver, 10*time.Millisecond, time.Millisecond, func(error) { errorCount++ })

	var received []pulsar.Message
	for msg := range out {
		received = append(received, msg)
		if len(received) == len(msgs) {
			cancel()
		}
	}
	assert.Equal(t, msgs, received)
	assert.Equal(t, 1, errorCount)
}

func TestReceive_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Receive(ctx, &mockReceiver{}, 5*time.Millisecond, time.Millisecond, nil)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("receiver did not shut down")
	}
}
