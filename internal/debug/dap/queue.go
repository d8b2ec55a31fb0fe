package dap

import (
	"sync"

	"github.com/tidwall/gjson"
)

// eventQueue is an unbounded FIFO between the receive and dispatch loops.
// The receive loop must never block on a slow handler, or a handler waiting
// for a response would deadlock the client.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []gjson.Result
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(msg gjson.Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, msg)
	q.cond.Signal()
}

// pop blocks until an event is available. It reports false once the queue is
// closed and drained.
func (q *eventQueue) pop() (gjson.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return gjson.Result{}, false
	}
	msg := q.items[0]
	q.items[0] = gjson.Result{}
	q.items = q.items[1:]
	return msg, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
