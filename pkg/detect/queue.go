package detect

import "sync"

// DefaultQueueCapacity bounds how many frames may wait for inference.
const DefaultQueueCapacity = 3

// frameQueue is a bounded FIFO buffer. Enqueue on a full queue is rejected
// rather than blocking or growing: the producer treats rejection as "drop
// this frame", which is the pipeline's backpressure policy.
type frameQueue struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &frameQueue{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
	}
}

// tryEnqueue appends the frame iff there is room. Returns false, with no
// side effects, when the queue is full.
func (q *frameQueue) tryEnqueue(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) >= q.capacity {
		return false
	}
	q.frames = append(q.frames, f)
	return true
}

// dequeue removes and returns the oldest frame.
func (q *frameQueue) dequeue() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
