/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Herd Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package queue

import (
	gods "github.com/Workiva/go-datastructures/queue"
)

// BoundedQueue is a bounded, blocking MPSC queue backed by a ring buffer.
//
// Characteristics
//   - Bounded capacity: the queue has a fixed size.
//   - Push blocks when the queue is full until space becomes available
//     or the queue is disposed.
//   - Pop never blocks: it returns false when the queue is empty.
//   - Concurrency: safe for multiple producers and a single consumer.
//   - FIFO ordering: items are dequeued in the order they were enqueued.
//
// Use this queue when you want strict, blocking backpressure with bounded
// capacity.
type BoundedQueue[T any] struct {
	underlying *gods.RingBuffer
}

// NewBoundedQueue creates a new bounded, blocking queue with the given
// capacity. Capacity must be a positive integer.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	return &BoundedQueue[T]{
		underlying: gods.NewRingBuffer(uint64(capacity)),
	}
}

// Push inserts an item into the queue.
//
// It blocks when the queue is full until space is available and returns an
// error when the queue has been disposed.
func (q *BoundedQueue[T]) Push(value T) error {
	return q.underlying.Put(value)
}

// Pop removes and returns the next item from the queue tail.
// Returns false if the queue is empty. Can be used in a single consumer (goroutine) only.
func (q *BoundedQueue[T]) Pop() (T, bool) {
	var tnil T
	if q.underlying.Len() > 0 {
		item, err := q.underlying.Get()
		if err != nil {
			return tnil, false
		}
		if v, ok := item.(T); ok {
			return v, true
		}
	}
	return tnil, false
}

// Len returns the current number of items in the queue.
func (q *BoundedQueue[T]) Len() int64 {
	return int64(q.underlying.Len())
}

// IsEmpty returns true when the queue is empty
func (q *BoundedQueue[T]) IsEmpty() bool {
	return q.underlying.Len() == 0
}

// Cap returns the total capacity of the queue.
func (q *BoundedQueue[T]) Cap() int64 {
	return int64(q.underlying.Cap())
}

// Dispose releases the queue resources. Any blocked or subsequent Push
// returns an error once the queue is disposed.
func (q *BoundedQueue[T]) Dispose() {
	q.underlying.Dispose()
}

// IsDisposed returns true when the queue has been disposed.
func (q *BoundedQueue[T]) IsDisposed() bool {
	return q.underlying.IsDisposed()
}
