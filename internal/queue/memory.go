package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/util"
)

// Memory is an in-process queue. Fetched messages stay in flight until they
// are acknowledged or nacked. Delayed and in-flight jobs are lost on exit, so
// it fits tests and single-process deployments only.
type Memory struct {
	mu       sync.Mutex
	ready    []Message
	inflight map[string]Message
	timers   map[*time.Timer]struct{}
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		inflight: make(map[string]Message),
		timers:   make(map[*time.Timer]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

var _ Queue = (*Memory)(nil)

func (q *Memory) Enqueue(_ context.Context, job model.DeliveryJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.scheduleLocked(Message{ID: util.New(), Job: job}, delay)
	return nil
}

func (q *Memory) scheduleLocked(m Message, delay time.Duration) {
	if delay <= 0 {
		q.pushLocked(m)
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if !q.closed {
			q.pushLocked(m)
		}
	})
	q.timers[t] = struct{}{}
}

func (q *Memory) pushLocked(m Message) {
	q.ready = append(q.ready, m)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Memory) Fetch(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			m := q.ready[0]
			q.ready[0] = Message{}
			q.ready = q.ready[1:]
			q.inflight[m.ID] = m
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				// wake the next fetcher
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return m, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

func (q *Memory) Ack(_ context.Context, m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, m.ID)
	return nil
}

// Nack puts an in-flight message back. Unknown or already acknowledged
// messages are ignored so a job is never duplicated by the queue itself.
func (q *Memory) Nack(_ context.Context, m Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, ok := q.inflight[m.ID]
	if !ok {
		return nil
	}
	delete(q.inflight, m.ID)
	if q.closed {
		return ErrClosed
	}
	q.scheduleLocked(held, delay)
	return nil
}

// Len returns the number of ready jobs and the number still waiting on a delay.
func (q *Memory) Len() (ready, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.timers)
}

// InFlight returns the number of fetched jobs not yet acknowledged or nacked.
func (q *Memory) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.done)
	return nil
}
