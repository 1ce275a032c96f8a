// Package workqueue provides the single serialized work context that owns
// all bridge state.
//
// Producers on any goroutine Post work items; exactly one goroutine drains
// them in FIFO order through Run. State touched only from work items needs
// no locking.
package workqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/logging"
)

// ErrClosed is returned when posting to a closed queue.
var ErrClosed = errors.New("workqueue: closed")

// Config holds configuration for a Queue.
type Config struct {
	// LoggerFactory for queue logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Queue is an unbounded single-consumer FIFO of work items.
type Queue struct {
	mu      sync.Mutex
	items   []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	running bool

	log logging.LeveledLogger
}

// New creates a queue. Call Run to start draining it.
func New(config Config) *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		q.log = config.LoggerFactory.NewLogger("workqueue")
	}
	return q
}

// Post appends fn to the queue. It never blocks.
func (q *Queue) Post(fn func()) error {
	if fn == nil {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do posts fn and waits for it to complete. It must not be called from a
// work item, which would deadlock the queue.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := q.Post(func() { result <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-q.done:
		// Items still pending at close are dropped.
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is done or Close is called. It must be
// called from exactly one goroutine.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	if q.running || q.closed {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	for {
		for {
			fn, ok := q.pop()
			if !ok {
				break
			}
			q.execute(fn)
		}

		select {
		case <-ctx.Done():
			q.Close()
			return
		case <-q.done:
			return
		case <-q.wake:
		}
	}
}

// Close stops accepting work and makes Run return. Pending items are
// discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

func (q *Queue) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil && q.log != nil {
			q.log.Errorf("work item panicked: %v", r)
		}
	}()
	fn()
}
