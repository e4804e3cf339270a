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

package etcd

import (
	"context"
	"fmt"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

// etcdCounter is one numeric key. Arithmetic runs as a revision-guarded
// read-modify-write transaction loop; a failed transaction means another
// writer landed first and the loop re-reads.
type etcdCounter struct {
	name   string
	key    string
	kv     clientv3.KV
	closed *atomic.Bool
}

// enforce compilation error
var _ store.Counter = (*etcdCounter)(nil)

func newEtcdCounter(name string, kv clientv3.KV, closed *atomic.Bool) *etcdCounter {
	return &etcdCounter{
		name:   name,
		key:    counterKeyPrefix + nameKey(name),
		kv:     kv,
		closed: closed,
	}
}

// Get returns the current value. A missing counter reads as zero.
func (c *etcdCounter) Get(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	value, _, err := c.read(ctx)
	return value, err
}

// IncrementAndGet adds one and returns the updated value.
func (c *etcdCounter) IncrementAndGet(ctx context.Context) (int64, error) {
	return c.AddAndGet(ctx, 1)
}

// GetAndIncrement adds one and returns the previous value.
func (c *etcdCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	return c.GetAndAdd(ctx, 1)
}

// DecrementAndGet subtracts one and returns the updated value.
func (c *etcdCounter) DecrementAndGet(ctx context.Context) (int64, error) {
	return c.AddAndGet(ctx, -1)
}

// AddAndGet adds the given delta and returns the updated value.
func (c *etcdCounter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	previous, err := c.GetAndAdd(ctx, delta)
	if err != nil {
		return 0, err
	}
	return previous + delta, nil
}

// GetAndAdd adds the given delta and returns the previous value.
func (c *etcdCounter) GetAndAdd(ctx context.Context, delta int64) (int64, error) {
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
		landed, err := c.write(ctx, current+delta, revision)
		if err != nil {
			return 0, fmt.Errorf("failed to add to counter=(%s): %w", c.name, err)
		}
		if landed {
			return current, nil
		}
	}
}

// CompareAndSet atomically replaces the value with update when the current
// value equals expected.
func (c *etcdCounter) CompareAndSet(ctx context.Context, expected, update int64) (bool, error) {
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
		landed, err := c.write(ctx, update, revision)
		if err != nil {
			return false, fmt.Errorf("failed to compare-and-set counter=(%s): %w", c.name, err)
		}
		if landed {
			return true, nil
		}
	}
}

// read returns the current value and the revision backing it; revision zero
// means the counter has never been written.
func (c *etcdCounter) read(ctx context.Context) (int64, int64, error) {
	resp, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read counter=(%s): %w", c.name, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, 0, nil
	}
	value, err := strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode counter=(%s): %w", c.name, err)
	}
	return value, resp.Kvs[0].ModRevision, nil
}

// write lands the value in a transaction guarded by the read revision.
// Revision zero expects the key to still be unwritten.
func (c *etcdCounter) write(ctx context.Context, value int64, revision int64) (bool, error) {
	compare := clientv3.Compare(clientv3.ModRevision(c.key), "=", revision)
	if revision == 0 {
		compare = clientv3.Compare(clientv3.CreateRevision(c.key), "=", 0)
	}
	resp, err := c.kv.Txn(ctx).
		If(compare).
		Then(clientv3.OpPut(c.key, strconv.FormatInt(value, 10))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}
