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

package memory

import (
	"context"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

// memoryCounter is an atomic 64-bit counter.
type memoryCounter struct {
	value  *atomic.Int64
	closed *atomic.Bool
}

// enforce compilation error
var _ store.Counter = (*memoryCounter)(nil)

func newMemoryCounter(closed *atomic.Bool) *memoryCounter {
	return &memoryCounter{
		value:  atomic.NewInt64(0),
		closed: closed,
	}
}

// Get returns the current value.
func (c *memoryCounter) Get(context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	return c.value.Load(), nil
}

// IncrementAndGet adds one and returns the updated value.
func (c *memoryCounter) IncrementAndGet(context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	return c.value.Inc(), nil
}

// GetAndIncrement adds one and returns the previous value.
func (c *memoryCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	return c.GetAndAdd(ctx, 1)
}

// DecrementAndGet subtracts one and returns the updated value.
func (c *memoryCounter) DecrementAndGet(context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	return c.value.Dec(), nil
}

// AddAndGet adds the given delta and returns the updated value.
func (c *memoryCounter) AddAndGet(_ context.Context, delta int64) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	return c.value.Add(delta), nil
}

// GetAndAdd adds the given delta and returns the previous value.
func (c *memoryCounter) GetAndAdd(_ context.Context, delta int64) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	for {
		current := c.value.Load()
		if c.value.CompareAndSwap(current, current+delta) {
			return current, nil
		}
	}
}

// CompareAndSet atomically replaces the value with update when the current
// value equals expected.
func (c *memoryCounter) CompareAndSet(_ context.Context, expected, update int64) (bool, error) {
	if c.closed.Load() {
		return false, store.ErrStoreClosed
	}
	return c.value.CompareAndSwap(expected, update), nil
}
