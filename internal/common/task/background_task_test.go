package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestBackgroundTaskManager_RunsUntilStopped(t *testing.T) {
	m := NewBackgroundTaskManager("zkb_test_", prometheus.NewRegistry())

	var runs int32
	m.Register(func() { atomic.AddInt32(&runs, 1) }, 10*time.Millisecond, "stats")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)

	timedOut := m.StopAll(time.Second)
	assert.False(t, timedOut)

	stopped := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&runs))
}
