package pipeline

import (
	"context"
	"errors"
	"sync"
)

const DefaultQueue = 3

var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is a bounded FIFO of frames. Push never blocks: when the queue is
// full the oldest frame is dropped.
type Queue struct {
	mu      sync.Mutex
	items   []Frame
	head    int
	size    int
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueue
	}
	return &Queue{
		items:  make([]Frame, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push adds frame and reports whether an older frame was dropped for it.
// Frames pushed after Close are ignored.
func (q *Queue) Push(frame Frame) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.size == len(q.items) {
		q.items[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped++
		dropped = true
	}

	q.items[(q.head+q.size)%len(q.items)] = frame
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return
}

// Pop blocks until a frame is available. Frames left in a closed queue are
// still returned before ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			frame := q.items[q.head]
			q.items[q.head] = Frame{}
			q.head = (q.head + 1) % len(q.items)
			q.size--
			more := q.size > 0
			q.mu.Unlock()

			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return frame, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Frame{}, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Cap() int {
	return len(q.items)
}

// Dropped counts frames removed by overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}
