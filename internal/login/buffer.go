package login

import (
	"sync"
	"unicode/utf8"
)

// outputBuffer keeps the most recent output of a session for display.
type outputBuffer struct {
	max  int
	data []byte
}

func newOutputBuffer(max int) *outputBuffer {
	if max < 1024 {
		max = 1024
	}
	return &outputBuffer{max: max}
}

func (b *outputBuffer) append(s string) {
	b.data = append(b.data, s...)
	if len(b.data) > b.max {
		cut := len(b.data) - b.max
		for cut < len(b.data) && !utf8.RuneStart(b.data[cut]) {
			cut++
		}
		b.data = append(b.data[:0], b.data[cut:]...)
	}
}

func (b *outputBuffer) String() string {
	return string(b.data)
}

// lineQueue is the pending-input queue drained by the session's writer.
type lineQueue struct {
	mu    sync.Mutex
	lines []string
	ready chan struct{}
}

func newLineQueue() *lineQueue {
	return &lineQueue{ready: make(chan struct{}, 1)}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *lineQueue) pop(stop <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line := q.lines[0]
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-stop:
			return "", false
		}
	}
}
