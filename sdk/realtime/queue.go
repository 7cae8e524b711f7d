// Package realtime moves live MIDI between platform driver threads and
// application goroutines.
//
// Every open input port feeds a bounded Queue. Producers never block: when
// the queue is full the oldest unread message is discarded and counted.
// Readers may poll, wait with a timeout or wait on a context, and Close wakes
// all of them. A queue closed with CloseWithError reports that error instead
// of ErrCancelled once drained.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midikit/sdk/contracts"
)

// Queue is a bounded multi-producer multi-consumer message buffer with a
// drop-oldest overflow policy.
type Queue struct {
	ch   chan contracts.Message
	done chan struct{}

	// pushMu serializes producers so that drop-then-retry is atomic with
	// respect to other producers.
	pushMu  sync.Mutex
	closed  atomic.Bool
	once    sync.Once
	err     error
	dropped atomic.Uint64
}

// NewQueue returns a queue holding up to capacity messages. A capacity
// below one is raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan contracts.Message, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues m without blocking, evicting the oldest message when full.
// It reports false once the queue is closed.
func (q *Queue) Push(m contracts.Message) bool {
	if q.closed.Load() {
		return false
	}
	q.pushMu.Lock()
	defer q.pushMu.Unlock()
	if q.closed.Load() {
		return false
	}
	for {
		select {
		case q.ch <- m:
			return true
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
			// a reader emptied a slot in between
		}
	}
}

// TryRecv returns the oldest message, ErrEmpty when none is buffered, or
// the close error once the queue is closed and drained.
func (q *Queue) TryRecv() (contracts.Message, error) {
	select {
	case m := <-q.ch:
		return m, nil
	default:
	}
	select {
	case <-q.done:
		return contracts.Message{}, q.err
	default:
	}
	return contracts.Message{}, contracts.ErrEmpty
}

// RecvBlocking waits up to timeout for a message.
func (q *Queue) RecvBlocking(timeout time.Duration) (contracts.Message, error) {
	if timeout <= 0 {
		m, err := q.TryRecv()
		if errors.Is(err, contracts.ErrEmpty) {
			err = contracts.ErrTimeout
		}
		return m, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	m, err := q.wait(timer.C, nil)
	if err == errExpired {
		return m, contracts.ErrTimeout
	}
	return m, err
}

// Recv waits until a message arrives, the queue is closed or ctx is done.
// A context deadline is reported as ErrTimeout and a cancellation as
// ErrCancelled; both wrap the context's error.
func (q *Queue) Recv(ctx context.Context) (contracts.Message, error) {
	m, err := q.wait(nil, ctx.Done())
	if err == errExpired {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return m, fmt.Errorf("%w: %w", contracts.ErrTimeout, ctx.Err())
		}
		return m, fmt.Errorf("%w: %w", contracts.ErrCancelled, ctx.Err())
	}
	return m, err
}

var errExpired = errors.New("wait expired")

func (q *Queue) wait(timeout <-chan time.Time, cancel <-chan struct{}) (contracts.Message, error) {
	select {
	case m := <-q.ch:
		return m, nil
	default:
	}
	select {
	case m := <-q.ch:
		return m, nil
	case <-q.done:
		// buffered messages stay readable after close
		return q.TryRecv()
	case <-timeout:
		return contracts.Message{}, errExpired
	case <-cancel:
		return contracts.Message{}, errExpired
	}
}

// Close stops further pushes and wakes every blocked reader. Messages
// already buffered can still be read; after that reads return ErrCancelled.
func (q *Queue) Close() error {
	q.CloseWithError(contracts.ErrCancelled)
	return nil
}

// CloseWithError is Close with err returned to readers once the buffer is
// drained. Only the first close of a queue takes effect.
func (q *Queue) CloseWithError(err error) {
	if err == nil {
		err = contracts.ErrCancelled
	}
	q.once.Do(func() {
		q.pushMu.Lock()
		q.err = err
		q.closed.Store(true)
		q.pushMu.Unlock()
		close(q.done)
	})
}

// Closed reports whether the queue has been closed.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// Dropped returns the number of messages evicted by overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
