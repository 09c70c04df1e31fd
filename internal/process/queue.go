package process

import "sync"

// chunkQueue is an unbounded FIFO between the reader and the pump, so a
// slow consumer never stalls reads from the child.
type chunkQueue struct {
	mu     sync.Mutex
	items  []Chunk
	closed bool
	ready  chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{ready: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(c Chunk) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.notify()
}

// close marks end of stream. Items already queued are still delivered.
func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *chunkQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available, the queue is closed and drained,
// or stop is closed.
func (q *chunkQueue) pop(stop <-chan struct{}) (Chunk, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = Chunk{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return c, true
		}
		if q.closed {
			q.mu.Unlock()
			return Chunk{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-stop:
			return Chunk{}, false
		}
	}
}
