package datamanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
	"github.com/zkbarchive/zkb/internal/datamanager/configuration"
	"github.com/zkbarchive/zkb/internal/protocol"
)

var updateDate = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

var testConfig = &configuration.DataManagerConfiguration{
	Bus: commonconfig.BusConfig{
		CommandTopic: protocol.DefaultCommandTopic,
		DataTopic:    protocol.DefaultDataTopic,
	},
	SubscriptionName:     "datamanager",
	BatchSize:            8,
	UpdateDate:           updateDate,
	MaxConcurrentFetches: 2,
	AbandonedBatchDelay:  time.Minute,
}

var (
	hashA = protocol.IdHash{Id: 1, Hash: protocol.MustParseHash("1a38d4921711476e5ea304f799a1552b4d2e5d28")}
	hashB = protocol.IdHash{Id: 2, Hash: protocol.MustParseHash("2b38d4921711476e5ea304f799a1552b4d2e5d28")}
)

func killmailAt(id int64, at time.Time) *protocol.Killmail {
	return &protocol.Killmail{KillmailId: id, KillmailTime: at, SolarSystemId: 30000142}
}

type fakeFetcher struct {
	killmails map[int64]*protocol.Killmail
}

func (f *fakeFetcher) FetchKillmail(_ context.Context, idHash protocol.IdHash) (*protocol.Killmail, error) {
	killmail, ok := f.killmails[idHash.Id]
	if !ok {
		return nil, errors.Errorf("killmail %d not found", idHash.Id)
	}
	return killmail, nil
}

type fakeStore struct {
	mu     sync.Mutex
	stored []*protocol.Killmail
	err    error
}

func (s *fakeStore) StoreKillmails(_ context.Context, killmails []*protocol.Killmail) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]int64, len(killmails))
	for i, killmail := range killmails {
		s.stored = append(s.stored, killmail)
		ids[i] = killmail.KillmailId
	}
	return ids, nil
}

func (s *fakeStore) Stored() []*protocol.Killmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.Killmail(nil), s.stored...)
}

type harness struct {
	client  *eventstream.MemoryClient
	fetcher *fakeFetcher
	store   *fakeStore
	clock   *clocktesting.FakeClock
	metrics *Metrics
	done    chan error
}

func withWorker(t *testing.T, fetcher *fakeFetcher, store *fakeStore, action func(h *harness)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := eventstream.NewMemoryClient()
	defer client.Close()
	h := &harness{
		client:  client,
		fetcher: fetcher,
		store:   store,
		clock:   clocktesting.NewFakeClock(time.Now()),
		metrics: NewMetrics(prometheus.NewRegistry()),
		done:    make(chan error, 1),
	}
	worker := New(fetcher, store, client, testConfig, h.clock, h.metrics, logrus.NewEntry(logrus.StandardLogger()))
	go func() { h.done <- worker.Run(ctx) }()
	require.Eventually(t, func() bool {
		return client.SubscriberCount(protocol.DefaultDataTopic) == 1 && len(h.commands(t)) == 1
	}, time.Second, time.Millisecond)
	action(h)
}

func (h *harness) send(t *testing.T, events ...*protocol.DataEvent) {
	publisher, err := h.client.NewPublisher(protocol.DefaultDataTopic)
	require.NoError(t, err)
	for _, event := range events {
		payload, err := protocol.MarshalData(event)
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(context.Background(), payload))
	}
}

func (h *harness) commands(t *testing.T) []*protocol.CmdEvent {
	var cmds []*protocol.CmdEvent
	for _, payload := range h.client.Published(protocol.DefaultCommandTopic) {
		cmd, err := protocol.UnmarshalCmd(payload)
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}
	return cmds
}

// answer replies to the most recent RequestLastHashes the worker published.
func (h *harness) answer(t *testing.T, hashes ...protocol.IdHash) {
	cmds := h.commands(t)
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].RequestLastHashes != nil {
			h.send(t, protocol.NewHashesToHandleFor(cmds[i].RequestLastHashes.RequestId, hashes))
			return
		}
	}
	t.Fatal("no RequestLastHashes published")
}

func assertRequest(t *testing.T, cmd *protocol.CmdEvent) {
	require.NotNil(t, cmd.RequestLastHashes, "expected RequestLastHashes, got %s", cmd.Kind())
	assert.Equal(t, testConfig.BatchSize, cmd.RequestLastHashes.Count)
	assert.NotEmpty(t, cmd.RequestLastHashes.RequestId)
}

func (h *harness) waitForCommands(t *testing.T, n int) []*protocol.CmdEvent {
	require.Eventually(t, func() bool { return len(h.commands(t)) >= n }, time.Second, time.Millisecond)
	return h.commands(t)
}

func (h *harness) wait(t *testing.T) error {
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("data manager did not stop")
		return nil
	}
}

func TestRun_RequestsHashesOnStart(t *testing.T) {
	withWorker(t, &fakeFetcher{}, &fakeStore{}, func(h *harness) {
		cmds := h.commands(t)
		require.Len(t, cmds, 1)
		assertRequest(t, cmds[0])
	})
}

func TestRun_AcceptedBatchIsStoredAndCompleted(t *testing.T) {
	fetcher := &fakeFetcher{killmails: map[int64]*protocol.Killmail{
		1: killmailAt(1, updateDate.Add(-time.Hour)),
		2: killmailAt(2, updateDate.Add(time.Hour)),
	}}
	store := &fakeStore{}
	withWorker(t, fetcher, store, func(h *harness) {
		h.answer(t, hashA, hashB)

		cmds := h.waitForCommands(t, 3)
		require.Len(t, cmds, 3)
		assertRequest(t, cmds[0])
		assert.Equal(t, protocol.NewMarkComplete([]int64{1, 2}), cmds[1])
		assertRequest(t, cmds[2])
		assert.NotEqual(t, cmds[0].RequestLastHashes.RequestId, cmds[2].RequestLastHashes.RequestId)
		assert.Equal(t, []*protocol.Killmail{fetcher.killmails[1], fetcher.killmails[2]}, store.Stored())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.batches.WithLabelValues(string(batchAccepted))))
		assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.killmailsStored.WithLabelValues(pathBatch)))
	})
}

func TestRun_BatchBeforeUpdateDateIsDiscarded(t *testing.T) {
	fetcher := &fakeFetcher{killmails: map[int64]*protocol.Killmail{
		1: killmailAt(1, updateDate),
		2: killmailAt(2, updateDate.Add(-time.Hour)),
	}}
	store := &fakeStore{}
	withWorker(t, fetcher, store, func(h *harness) {
		h.answer(t, hashA, hashB)

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.batches.WithLabelValues(string(batchRejected))) == 1
		}, time.Second, time.Millisecond)
		assert.Empty(t, store.Stored())
		assert.Len(t, h.commands(t), 1)
	})
}

func TestRun_AbandonedBatchIsRequestedAgainAfterDelay(t *testing.T) {
	fetcher := &fakeFetcher{killmails: map[int64]*protocol.Killmail{
		1: killmailAt(1, updateDate.Add(time.Hour)),
	}}
	store := &fakeStore{}
	withWorker(t, fetcher, store, func(h *harness) {
		h.answer(t, hashA, hashB)

		require.Eventually(t, h.clock.HasWaiters, time.Second, time.Millisecond)
		assert.Empty(t, store.Stored())
		assert.Len(t, h.commands(t), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.batches.WithLabelValues(string(batchAbandoned))))

		h.clock.Step(testConfig.AbandonedBatchDelay)
		cmds := h.waitForCommands(t, 2)
		assertRequest(t, cmds[1])
	})
}

func TestRun_UnrequestedBatchDoesNotStartSecondRequest(t *testing.T) {
	fetcher := &fakeFetcher{killmails: map[int64]*protocol.Killmail{
		1: killmailAt(1, updateDate.Add(time.Hour)),
		2: killmailAt(2, updateDate.Add(time.Hour)),
	}}
	store := &fakeStore{}
	withWorker(t, fetcher, store, func(h *harness) {
		// Sent by an operator or the history fetcher while the worker's own request is outstanding.
		h.send(t, protocol.NewHashesToHandle([]protocol.IdHash{hashA}))
		h.answer(t, hashB)

		cmds := h.waitForCommands(t, 4)
		assert.Never(t, func() bool { return len(h.commands(t)) > 4 }, 100*time.Millisecond, 5*time.Millisecond)
		require.Len(t, cmds, 4)
		assertRequest(t, cmds[0])
		assert.Equal(t, protocol.NewMarkComplete([]int64{1}), cmds[1])
		assert.Equal(t, protocol.NewMarkComplete([]int64{2}), cmds[2])
		assertRequest(t, cmds[3])
		assert.Len(t, store.Stored(), 2)
	})
}

func TestRun_UnrequestedBatchRestartsIdleWorker(t *testing.T) {
	fetcher := &fakeFetcher{killmails: map[int64]*protocol.Killmail{
		1: killmailAt(1, updateDate.Add(-time.Hour)),
		2: killmailAt(2, updateDate.Add(time.Hour)),
	}}
	withWorker(t, fetcher, &fakeStore{}, func(h *harness) {
		h.answer(t, hashA)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.batches.WithLabelValues(string(batchRejected))) == 1
		}, time.Second, time.Millisecond)
		assert.Len(t, h.commands(t), 1)

		h.send(t, protocol.NewHashesToHandle([]protocol.IdHash{hashB}))

		cmds := h.waitForCommands(t, 3)
		assert.Equal(t, protocol.NewMarkComplete([]int64{2}), cmds[1])
		assertRequest(t, cmds[2])
	})
}

func TestRun_LiveKillmailIsStoredAndReported(t *testing.T) {
	store := &fakeStore{}
	withWorker(t, &fakeFetcher{}, store, func(h *harness) {
		live := killmailAt(hashA.Id, updateDate.Add(-time.Hour))
		live.Zkb = &protocol.Zkb{Hash: hashA.Hash.String()}
		h.send(t, protocol.NewKillmailToStore(live))

		cmds := h.waitForCommands(t, 2)
		assert.Equal(t, protocol.NewSaveHandledHash(hashA), cmds[1])
		require.Len(t, store.Stored(), 1)
		assert.Equal(t, hashA.Id, store.Stored()[0].KillmailId)
	})
}

func TestRun_LiveKillmailWithoutValidHashIsSkipped(t *testing.T) {
	store := &fakeStore{}
	withWorker(t, &fakeFetcher{}, store, func(h *harness) {
		missing := killmailAt(1, updateDate)
		malformed := killmailAt(2, updateDate)
		malformed.Zkb = &protocol.Zkb{Hash: "not-a-hash"}
		valid := killmailAt(hashB.Id, updateDate)
		valid.Zkb = &protocol.Zkb{Hash: hashB.Hash.String()}
		h.send(t,
			protocol.NewKillmailToStore(missing),
			protocol.NewKillmailToStore(malformed),
			protocol.NewKillmailToStore(valid),
		)

		cmds := h.waitForCommands(t, 2)
		assert.Equal(t, protocol.NewSaveHandledHash(hashB), cmds[1])
		assert.Len(t, store.Stored(), 1)
		assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.invalidKillmails))
	})
}

func TestRun_StoreFailureStopsWorker(t *testing.T) {
	fetcher := &fakeFetcher{killmails: map[int64]*protocol.Killmail{
		1: killmailAt(1, updateDate.Add(time.Hour)),
	}}
	storeErr := errors.New("disk full")
	withWorker(t, fetcher, &fakeStore{err: storeErr}, func(h *harness) {
		h.answer(t, hashA)

		assert.ErrorIs(t, h.wait(t), storeErr)
		assert.Len(t, h.commands(t), 1)
	})
}

func TestRun_DecodeFailureStopsWorker(t *testing.T) {
	withWorker(t, &fakeFetcher{}, &fakeStore{}, func(h *harness) {
		publisher, err := h.client.NewPublisher(protocol.DefaultDataTopic)
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(context.Background(), []byte("garbage")))

		err = h.wait(t)
		var e *zkberrors.ErrUnexpectedMessage
		assert.True(t, errors.As(err, &e), "unexpected error %v", err)
	})
}

func TestAcceptBatch(t *testing.T) {
	tests := map[string]struct {
		killmails []*protocol.Killmail
		expected  bool
	}{
		"empty":           {killmails: nil, expected: false},
		"all before":      {killmails: []*protocol.Killmail{killmailAt(1, updateDate.Add(-time.Second))}, expected: false},
		"exactly at date": {killmails: []*protocol.Killmail{killmailAt(1, updateDate)}, expected: false},
		"one after": {
			killmails: []*protocol.Killmail{killmailAt(1, updateDate), killmailAt(2, updateDate.Add(time.Second))},
			expected:  true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, AcceptBatch(tc.killmails, updateDate))
		})
	}
}
