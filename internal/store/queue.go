package store

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned by Queue.Record when the writer is behind.
	ErrQueueFull = errors.New("decision queue full")
	// ErrQueueClosed is returned by Queue.Record after Close.
	ErrQueueClosed = errors.New("decision queue closed")
)

// DefaultQueueSize is the number of decisions a Queue buffers.
const DefaultQueueSize = 1024

// Queue hands decisions to a background writer so callers never wait on disk.
// Decisions waiting together are written in one transaction.
type Queue struct {
	store   *Store
	pending chan Decision
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts a writer for s buffering up to size decisions.
func NewQueue(s *Store, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		store:   s,
		pending: make(chan Decision, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Record enqueues d. It never blocks; when the buffer is full d is dropped
// and ErrQueueFull returned.
func (q *Queue) Record(d Decision) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.pending <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued decisions and stops the writer.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for d := range q.pending {
		batch := []Decision{d}
	drain:
		for len(batch) < cap(q.pending) {
			select {
			case next, ok := <-q.pending:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		if err := q.store.RecordBatch(batch); err != nil {
			q.store.log.Warn().Err(err).Int("decisions", len(batch)).Msg("Failed to write decisions")
		}
	}
}
