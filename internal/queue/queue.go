// Package queue implements the pending-chunk queue: an ordered sequence of
// sink-ready chunks plus a running byte total, drained one chunk at a time
// by the delivery loop.
package queue

import "github.com/zsiec/flashmse/media"

// Queue is a FIFO of sink-ready chunks. It is not safe for concurrent use;
// the owning source buffer serializes access.
type Queue struct {
	chunks []media.Chunk
	bytes  int64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push appends c to the tail of the queue.
func (q *Queue) Push(c media.Chunk) {
	q.chunks = append(q.chunks, c)
	q.bytes += int64(len(c))
}

// PushFront returns c to the head of the queue, undoing a Pop.
func (q *Queue) PushFront(c media.Chunk) {
	q.chunks = append(q.chunks, nil)
	copy(q.chunks[1:], q.chunks)
	q.chunks[0] = c
	q.bytes += int64(len(c))
}

// Pop removes and returns the head chunk. The second return is false when
// the queue is empty.
func (q *Queue) Pop() (media.Chunk, bool) {
	if len(q.chunks) == 0 {
		return nil, false
	}
	c := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	q.bytes -= int64(len(c))
	return c, true
}

// Clear drops all queued chunks and resets the byte total.
func (q *Queue) Clear() {
	q.chunks = nil
	q.bytes = 0
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	return len(q.chunks)
}

// Bytes returns the total size of all queued chunks.
func (q *Queue) Bytes() int64 {
	return q.bytes
}
