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

package olric

import (
	"context"
	"fmt"
	"time"

	"github.com/tochemey/olric"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

const (
	// casLockWait bounds how long one CompareAndSet waits for concurrent
	// swaps of the same counter.
	casLockWait = 5 * time.Second
	// casLockLease frees the guard should the process die mid-swap.
	casLockLease = 10 * time.Second
)

// olricCounter is a key in the shared counters DMap, driven by the atomic
// Incr/Decr primitives. A missing counter reads as zero. CompareAndSet is a
// lock-guarded read-modify-write: the guard excludes concurrent swaps, while
// plain arithmetic stays lock-free.
type olricCounter struct {
	name   string
	dmap   olric.DMap
	closed *atomic.Bool
}

// enforce compilation error
var _ store.Counter = (*olricCounter)(nil)

func newOlricCounter(name string, dmap olric.DMap, closed *atomic.Bool) *olricCounter {
	return &olricCounter{
		name:   name,
		dmap:   dmap,
		closed: closed,
	}
}

// Get returns the current value.
func (c *olricCounter) Get(ctx context.Context) (int64, error) {
	return c.add(ctx, 0)
}

// IncrementAndGet adds one and returns the updated value.
func (c *olricCounter) IncrementAndGet(ctx context.Context) (int64, error) {
	return c.add(ctx, 1)
}

// GetAndIncrement adds one and returns the previous value.
func (c *olricCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	return c.GetAndAdd(ctx, 1)
}

// DecrementAndGet subtracts one and returns the updated value.
func (c *olricCounter) DecrementAndGet(ctx context.Context) (int64, error) {
	return c.add(ctx, -1)
}

// AddAndGet adds the given delta and returns the updated value.
func (c *olricCounter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	return c.add(ctx, delta)
}

// GetAndAdd adds the given delta and returns the previous value. The prior
// value is derived from the single atomic Incr result.
func (c *olricCounter) GetAndAdd(ctx context.Context, delta int64) (int64, error) {
	updated, err := c.add(ctx, delta)
	if err != nil {
		return 0, err
	}
	return updated - delta, nil
}

// CompareAndSet atomically replaces the value with update when the current
// value equals expected.
func (c *olricCounter) CompareAndSet(ctx context.Context, expected, update int64) (bool, error) {
	if c.closed.Load() {
		return false, store.ErrStoreClosed
	}
	guard, err := c.dmap.LockWithTimeout(ctx, c.name+":cas", casLockLease, casLockWait)
	if err != nil {
		return false, fmt.Errorf("failed to guard counter=(%s): %w", c.name, err)
	}
	defer func() { _ = guard.Unlock(ctx) }()

	current, err := c.add(ctx, 0)
	if err != nil {
		return false, err
	}
	if current != expected {
		return false, nil
	}
	if _, err := c.add(ctx, update-current); err != nil {
		return false, err
	}
	return true, nil
}

// add applies the delta with a single atomic Incr or Decr call and returns
// the updated value. Olric counts in machine ints; the 64-bit range is
// inherited from the platform.
func (c *olricCounter) add(ctx context.Context, delta int64) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	var updated int
	var err error
	if delta < 0 {
		updated, err = c.dmap.Decr(ctx, c.name, int(-delta))
	} else {
		updated, err = c.dmap.Incr(ctx, c.name, int(delta))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update counter=(%s): %w", c.name, err)
	}
	return int64(updated), nil
}
