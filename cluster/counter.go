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

package cluster

import (
	"context"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/store"
)

// Counter is a distributed 64-bit counter. The handle holds no cached value;
// every operation delegates atomically to the backing store and completes on
// the caller's execution context. Overflow behavior is whatever the store
// provides.
type Counter interface {
	// Name returns the counter name.
	Name() string
	// Get resolves the current value.
	Get(handler async.Handler[int64])
	// IncrementAndGet adds one and resolves the new value.
	IncrementAndGet(handler async.Handler[int64])
	// GetAndIncrement adds one and resolves the prior value.
	GetAndIncrement(handler async.Handler[int64])
	// DecrementAndGet subtracts one and resolves the new value.
	DecrementAndGet(handler async.Handler[int64])
	// AddAndGet adds delta and resolves the new value.
	AddAndGet(delta int64, handler async.Handler[int64])
	// GetAndAdd adds delta and resolves the prior value.
	GetAndAdd(delta int64, handler async.Handler[int64])
	// CompareAndSet swaps expected for update and resolves whether it did.
	CompareAndSet(expected, update int64, handler async.Handler[bool])
}

type counterHandle struct {
	name    string
	backing store.Counter
	runtime async.Runtime
	ctx     context.Context
}

// enforce compilation error
var _ Counter = (*counterHandle)(nil)

func newCounterHandle(name string, backing store.Counter, runtime async.Runtime, ctx context.Context) *counterHandle {
	return &counterHandle{
		name:    name,
		backing: backing,
		runtime: runtime,
		ctx:     ctx,
	}
}

func (c *counterHandle) Name() string {
	return c.name
}

func (c *counterHandle) Get(handler async.Handler[int64]) {
	async.Dispatch(c.runtime, func() (int64, error) {
		return c.backing.Get(c.ctx)
	}, handler)
}

func (c *counterHandle) IncrementAndGet(handler async.Handler[int64]) {
	async.Dispatch(c.runtime, func() (int64, error) {
		return c.backing.IncrementAndGet(c.ctx)
	}, handler)
}

func (c *counterHandle) GetAndIncrement(handler async.Handler[int64]) {
	async.Dispatch(c.runtime, func() (int64, error) {
		return c.backing.GetAndIncrement(c.ctx)
	}, handler)
}

func (c *counterHandle) DecrementAndGet(handler async.Handler[int64]) {
	async.Dispatch(c.runtime, func() (int64, error) {
		return c.backing.DecrementAndGet(c.ctx)
	}, handler)
}

func (c *counterHandle) AddAndGet(delta int64, handler async.Handler[int64]) {
	async.Dispatch(c.runtime, func() (int64, error) {
		return c.backing.AddAndGet(c.ctx, delta)
	}, handler)
}

func (c *counterHandle) GetAndAdd(delta int64, handler async.Handler[int64]) {
	async.Dispatch(c.runtime, func() (int64, error) {
		return c.backing.GetAndAdd(c.ctx, delta)
	}, handler)
}

func (c *counterHandle) CompareAndSet(expected, update int64, handler async.Handler[bool]) {
	async.Dispatch(c.runtime, func() (bool, error) {
		return c.backing.CompareAndSet(c.ctx, expected, update)
	}, handler)
}
