package hashmanager

import (
	"sync"

	"github.com/zkbarchive/zkb/internal/protocol"
)

// PendingQueue is an unbounded FIFO of decoded commands between the receiver and the processor.
// Push never blocks on the consumer; Pop blocks until a command is available or the queue is closed.
type PendingQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*protocol.CmdEvent
	closed bool
}

func NewPendingQueue() *PendingQueue {
	q := &PendingQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends cmd. It returns false, dropping cmd, if the queue has been closed.
func (q *PendingQueue) Push(cmd *protocol.CmdEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, cmd)
	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest command. After Close it keeps returning queued commands until
// the queue is empty and then returns false.
func (q *PendingQueue) Pop() (*protocol.CmdEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	cmd := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return cmd, true
}

// Close stops further pushes and wakes a blocked Pop.
func (q *PendingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
