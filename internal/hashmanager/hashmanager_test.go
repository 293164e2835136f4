package hashmanager

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
	"github.com/zkbarchive/zkb/internal/hashmanager/configuration"
	"github.com/zkbarchive/zkb/internal/hashstore"
	"github.com/zkbarchive/zkb/internal/protocol"
)

var testConfig = &configuration.HashManagerConfiguration{
	Bus: commonconfig.BusConfig{
		CommandTopic: protocol.DefaultCommandTopic,
		DataTopic:    protocol.DefaultDataTopic,
	},
	SubscriptionName: "hashmanager",
	StatsInterval:    time.Minute,
}

func idHash(id int64, hexHash string) protocol.IdHash {
	return protocol.IdHash{Id: id, Hash: protocol.MustParseHash(hexHash)}
}

var (
	hashA = idHash(1, "1a38d4921711476e5ea304f799a1552b4d2e5d28")
	hashB = idHash(2, "2b38d4921711476e5ea304f799a1552b4d2e5d28")
	hashC = idHash(3, "3c38d4921711476e5ea304f799a1552b4d2e5d28")
)

type harness struct {
	client  *eventstream.MemoryClient
	store   *hashstore.Store
	metrics *Metrics
	hm      *HashManager
	done    chan error
}

func withHashManager(t *testing.T, ctx context.Context, action func(h *harness)) {
	err := database.WithTestDb(func(db *database.Database) error {
		client := eventstream.NewMemoryClient()
		defer client.Close()
		m := NewMetrics(prometheus.NewRegistry())
		h := &harness{
			client:  client,
			store:   hashstore.New(db),
			metrics: m,
			done:    make(chan error, 1),
		}
		h.hm = New(h.store, client, testConfig, m, logrus.NewEntry(logrus.StandardLogger()))
		go func() { h.done <- h.hm.Run(ctx) }()
		require.Eventually(t, func() bool {
			return client.SubscriberCount(protocol.DefaultCommandTopic) == 1
		}, time.Second, time.Millisecond)
		action(h)
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) send(t *testing.T, cmds ...*protocol.CmdEvent) {
	publisher, err := h.client.NewPublisher(protocol.DefaultCommandTopic)
	require.NoError(t, err)
	for _, cmd := range cmds {
		payload, err := protocol.MarshalCmd(cmd)
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(context.Background(), payload))
	}
}

func (h *harness) wait(t *testing.T) error {
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("hash manager did not stop")
		return nil
	}
}

func (h *harness) published(t *testing.T) []*protocol.DataEvent {
	var events []*protocol.DataEvent
	for _, payload := range h.client.Published(protocol.DefaultDataTopic) {
		event, err := protocol.UnmarshalData(payload)
		require.NoError(t, err)
		events = append(events, event)
	}
	return events
}

func TestRun_ProcessesCommandsInOrderUntilQuit(t *testing.T) {
	withHashManager(t, context.Background(), func(h *harness) {
		h.send(t,
			protocol.NewSaveDailyReport("2022-01-17", []protocol.IdHash{hashA, hashB, hashC}),
			protocol.NewMarkComplete([]int64{2}),
			protocol.NewRequestLastHashes(8),
			protocol.NewReturnHash(hashA),
			protocol.NewSaveHandledHash(idHash(4, "4d38d4921711476e5ea304f799a1552b4d2e5d28")),
			protocol.NewQuit(),
		)
		require.NoError(t, h.wait(t))

		events := h.published(t)
		require.Len(t, events, 1)
		assert.Equal(t, []protocol.IdHash{hashC, hashA}, events[0].HashesToHandle.Hashes)

		state, ok, err := h.store.State(context.Background(), 4)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, hashstore.Complete, state)

		assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.hashesReported))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.hashesCompleted))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.commandsProcessed.WithLabelValues(string(protocol.CmdQuit))))
	})
}

func TestRun_IgnoresCommandsAfterQuit(t *testing.T) {
	withHashManager(t, context.Background(), func(h *harness) {
		h.send(t,
			protocol.NewQuit(),
			protocol.NewSaveDailyReport("2022-01-17", []protocol.IdHash{hashA}),
		)
		require.NoError(t, h.wait(t))

		_, ok, err := h.store.State(context.Background(), hashA.Id)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRun_RequestOnEmptyStorePublishesEmptyBatch(t *testing.T) {
	withHashManager(t, context.Background(), func(h *harness) {
		h.send(t, protocol.NewRequestLastHashes(8), protocol.NewQuit())
		require.NoError(t, h.wait(t))

		events := h.published(t)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].HashesToHandle.Hashes)
	})
}

func TestRun_DecodeFailureStopsAfterDrainingQueue(t *testing.T) {
	withHashManager(t, context.Background(), func(h *harness) {
		h.send(t, protocol.NewSaveDailyReport("2022-01-17", []protocol.IdHash{hashA}))
		publisher, err := h.client.NewPublisher(protocol.DefaultCommandTopic)
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(context.Background(), []byte("garbage")))

		err = h.wait(t)
		var e *zkberrors.ErrUnexpectedMessage
		assert.True(t, errors.As(err, &e), "unexpected error %v", err)

		state, ok, err := h.store.State(context.Background(), hashA.Id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, hashstore.Pending, state)
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	withHashManager(t, ctx, func(h *harness) {
		cancel()
		assert.NoError(t, h.wait(t))
		assert.Equal(t, 0, h.client.SubscriberCount(protocol.DefaultCommandTopic))
	})
}
