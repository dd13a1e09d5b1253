package webview

import (
	"context"
	"sync"
	"sync/atomic"
)

// sendQueue serializes writes to the channel. The transport is a single
// pipe and the remote UI's message handling assumes frames arrive whole and
// in order, so all sends funnel through one worker goroutine: strict FIFO,
// one in-flight send at a time. A failed send fails only its own caller;
// the worker moves on to the next item.
type sendQueue struct {
	tasks    chan sendTask
	quit     chan struct{}
	once     sync.Once
	accepted atomic.Int64
}

type sendTask struct {
	fn     func() error
	result chan error
}

func newSendQueue(depth int) *sendQueue {
	q := &sendQueue{
		tasks: make(chan sendTask, depth),
		quit:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *sendQueue) run() {
	for {
		select {
		case <-q.quit:
			q.drain()
			return
		case t := <-q.tasks:
			t.result <- t.fn()
		}
	}
}

// drain fails every task still queued at close time.
func (q *sendQueue) drain() {
	for {
		select {
		case t := <-q.tasks:
			t.result <- ErrInvalidState
		default:
			return
		}
	}
}

// Enqueue submits one post-and-await-acknowledgement cycle and waits for
// its outcome. Callers blocked here do not interleave: the worker executes
// tasks strictly in submission order.
func (q *sendQueue) Enqueue(ctx context.Context, fn func() error) error {
	t := sendTask{fn: fn, result: make(chan error, 1)}

	select {
	case q.tasks <- t:
		q.accepted.Add(1)
	case <-q.quit:
		return ErrInvalidState
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		return ErrInvalidState
	}
}

// EnqueueAsync reserves the next queue slot and returns without waiting
// for the task's outcome, which is delivered on the returned channel.
// Returns false if the queue is closed.
func (q *sendQueue) EnqueueAsync(fn func() error) (<-chan error, bool) {
	select {
	case <-q.quit:
		return nil, false
	default:
	}

	t := sendTask{fn: fn, result: make(chan error, 1)}
	select {
	case q.tasks <- t:
		q.accepted.Add(1)
		return t.result, true
	case <-q.quit:
		return nil, false
	}
}

// Accepted returns how many tasks the queue has taken in so far.
func (q *sendQueue) Accepted() int64 {
	return q.accepted.Load()
}

// Close stops the worker. Queued tasks fail with ErrInvalidState.
// Safe to call more than once.
func (q *sendQueue) Close() {
	q.once.Do(func() { close(q.quit) })
}
