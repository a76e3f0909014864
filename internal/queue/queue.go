// Package queue provides an unbounded multi-producer multi-consumer FIFO.
//
// Send never blocks. A queue is closed once every Sender handle has been
// closed; receivers then drain what is buffered and observe ErrClosed.
// Closing the Receiver side disconnects the queue: later sends fail with
// ErrDisconnected.
package queue

import (
	"sync"
	"time"

	"github.com/kartikbazzad/edgedb/internal/errors"
)

var (
	ErrClosed       = errors.ErrQueueClosed
	ErrDisconnected = errors.ErrDisconnected
	ErrTimeout      = errors.ErrRecvTimeout
)

type queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	senders int
	closed  bool // all senders gone
	dropped bool // receiver side closed

	// notify holds at most one pending wake-up. A consumer that takes an
	// item and leaves more behind passes the wake-up on.
	notify chan struct{}
	// done is closed together with closed or dropped.
	done chan struct{}
}

// New returns the two halves of an empty queue.
func New[T any]() (*Sender[T], *Receiver[T]) {
	q := &queue[T]{
		senders: 1,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	return &Sender[T]{q: q}, &Receiver[T]{q: q}
}

func (q *queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue[T]) len() int {
	return len(q.items) - q.head
}

// pop takes the head item. Must hold mu.
func (q *queue[T]) pop() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}

func (q *queue[T]) markDone() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// Sender is one producer handle. Handles are independent: closing one does
// not affect the others, and the queue closes when the last is closed.
type Sender[T any] struct {
	q      *queue[T]
	mu     sync.Mutex
	closed bool
}

// Send appends v. It fails if this handle was closed or the receiver side
// has been dropped.
func (s *Sender[T]) Send(v T) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	q := s.q
	q.mu.Lock()
	if q.dropped {
		q.mu.Unlock()
		return ErrDisconnected
	}
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Clone returns a new handle on the same queue. Cloning a closed handle
// returns a closed handle.
func (s *Sender[T]) Clone() *Sender[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Sender[T]{q: s.q, closed: true}
	}

	s.q.mu.Lock()
	s.q.senders++
	s.q.mu.Unlock()
	return &Sender[T]{q: s.q}
}

// Close releases this handle. It is safe to call more than once.
func (s *Sender[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	q := s.q
	q.mu.Lock()
	q.senders--
	if q.senders == 0 && !q.closed {
		q.closed = true
		q.markDone()
	}
	q.mu.Unlock()
}

// Disconnected reports whether the receiver side has been closed.
func (s *Sender[T]) Disconnected() bool {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.q.dropped
}

func (s *Sender[T]) Len() int {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.q.len()
}

// Receiver is the consumer side. It may be shared by any number of
// goroutines; every item is delivered to exactly one of them.
type Receiver[T any] struct {
	q *queue[T]
}

// TryRecv returns the head item without blocking. ok is false when the
// queue is empty; err is ErrClosed once the queue is closed and drained.
func (r *Receiver[T]) TryRecv() (v T, ok bool, err error) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.len() > 0 {
		v = q.pop()
		if q.len() > 0 {
			q.signal()
		}
		return v, true, nil
	}
	if q.closed || q.dropped {
		return v, false, ErrClosed
	}
	return v, false, nil
}

// Recv blocks until an item is available or the queue is closed and empty.
func (r *Receiver[T]) Recv() (T, error) {
	return r.RecvTimeout(nil)
}

// RecvTimeout is Recv bounded by timeout. A nil channel never fires.
func (r *Receiver[T]) RecvTimeout(timeout <-chan time.Time) (T, error) {
	for {
		v, ok, err := r.TryRecv()
		if ok || err != nil {
			return v, err
		}

		select {
		case <-r.q.notify:
		case <-r.q.done:
			// TryRecv drains the rest, then reports ErrClosed.
		case <-timeout:
			var zero T
			return zero, ErrTimeout
		}
	}
}

// Close drops the receiver side. Items still buffered are returned and
// later sends fail with ErrDisconnected.
func (r *Receiver[T]) Close() []T {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	var rest []T
	for q.len() > 0 {
		rest = append(rest, q.pop())
	}
	if !q.dropped {
		q.dropped = true
		q.markDone()
	}
	return rest
}

func (r *Receiver[T]) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return r.q.len()
}
