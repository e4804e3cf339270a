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

package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

// natsCounter is one key in the counters bucket. Arithmetic runs as a
// revision-checked read-modify-write loop; a conflict means another writer
// landed first and the loop re-reads.
type natsCounter struct {
	name   string
	key    string
	kv     nats.KeyValue
	closed *atomic.Bool
}

// enforce compilation error
var _ store.Counter = (*natsCounter)(nil)

func newNatsCounter(name string, kv nats.KeyValue, closed *atomic.Bool) *natsCounter {
	return &natsCounter{
		name:   name,
		key:    keyName(name),
		kv:     kv,
		closed: closed,
	}
}

// Get returns the current value. A missing counter reads as zero.
func (c *natsCounter) Get(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	value, _, err := c.read(ctx)
	return value, err
}

// IncrementAndGet adds one and returns the updated value.
func (c *natsCounter) IncrementAndGet(ctx context.Context) (int64, error) {
	return c.AddAndGet(ctx, 1)
}

// GetAndIncrement adds one and returns the previous value.
func (c *natsCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	return c.GetAndAdd(ctx, 1)
}

// DecrementAndGet subtracts one and returns the updated value.
func (c *natsCounter) DecrementAndGet(ctx context.Context) (int64, error) {
	return c.AddAndGet(ctx, -1)
}

// AddAndGet adds the given delta and returns the updated value.
func (c *natsCounter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	previous, err := c.GetAndAdd(ctx, delta)
	if err != nil {
		return 0, err
	}
	return previous + delta, nil
}

// GetAndAdd adds the given delta and returns the previous value.
func (c *natsCounter) GetAndAdd(ctx context.Context, delta int64) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		current, revision, err := c.read(ctx)
		if err != nil {
			return 0, err
		}
		err = c.write(current+delta, revision)
		switch {
		case err == nil:
			return current, nil
		case isRevisionConflict(err):
			continue
		default:
			return 0, fmt.Errorf("failed to add to counter=(%s): %w", c.name, err)
		}
	}
}

// CompareAndSet atomically replaces the value with update when the current
// value equals expected.
func (c *natsCounter) CompareAndSet(ctx context.Context, expected, update int64) (bool, error) {
	if c.closed.Load() {
		return false, store.ErrStoreClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		current, revision, err := c.read(ctx)
		if err != nil {
			return false, err
		}
		if current != expected {
			return false, nil
		}
		err = c.write(update, revision)
		switch {
		case err == nil:
			return true, nil
		case isRevisionConflict(err):
			continue
		default:
			return false, fmt.Errorf("failed to compare-and-set counter=(%s): %w", c.name, err)
		}
	}
}

// read returns the current value and the revision backing it; revision zero
// means the counter has never been written.
func (c *natsCounter) read(context.Context) (int64, uint64, error) {
	entry, err := c.kv.Get(c.key)
	switch {
	case errors.Is(err, nats.ErrKeyNotFound), errors.Is(err, nats.ErrKeyDeleted):
		return 0, 0, nil
	case err != nil:
		return 0, 0, fmt.Errorf("failed to read counter=(%s): %w", c.name, err)
	}
	value, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode counter=(%s): %w", c.name, err)
	}
	return value, entry.Revision(), nil
}

// write lands the value against the read revision. Revision zero expects the
// key to still be unwritten.
func (c *natsCounter) write(value int64, revision uint64) error {
	payload := []byte(strconv.FormatInt(value, 10))
	if revision == 0 {
		_, err := c.kv.Create(c.key, payload)
		return err
	}
	_, err := c.kv.Update(c.key, payload, revision)
	return err
}
