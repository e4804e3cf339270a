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

package async

import (
	goruntime "runtime"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
)

// Context is a cooperative execution context. Tasks scheduled on one Context
// run one at a time, in submission order, and never inline on the scheduling
// goroutine. It is the unit of ordering the host runtime guarantees.
type Context interface {
	// RunOnContext schedules the given task on the context. Nil tasks are
	// ignored.
	RunOnContext(task func())
}

// Runtime bridges herd to the host scheduler. Implementations hand out
// execution contexts; all completion callbacks are marshaled back onto a
// context obtained here before they fire.
type Runtime interface {
	// GetOrCreateContext returns an execution context. Successive calls may
	// return the same or different contexts; tasks posted to the returned
	// context always run serialized and in order.
	GetOrCreateContext() Context
	// Close stops accepting tasks and waits for the pending ones to drain.
	Close() error
}

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(rt *eventLoopRuntime)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(rt *eventLoopRuntime)

// Apply applies the runtime's option
func (f OptionFunc) Apply(rt *eventLoopRuntime) {
	f(rt)
}

// WithLoops sets the number of event loops the runtime round-robins contexts
// over. Values below one fall back to the default.
func WithLoops(loops int) Option {
	return OptionFunc(func(rt *eventLoopRuntime) {
		if loops > 0 {
			rt.loopsCount = loops
		}
	})
}

// WithBoundedQueue caps every event-loop task queue at the given capacity.
// Producers block when a loop is full. A zero capacity keeps the queues
// unbounded.
func WithBoundedQueue(capacity int) Option {
	return OptionFunc(func(rt *eventLoopRuntime) {
		rt.queueCapacity = capacity
	})
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(rt *eventLoopRuntime) {
		rt.logger = logger
	})
}

// eventLoopRuntime is the default Runtime. It owns a fixed pool of event
// loops and hands them out round-robin.
type eventLoopRuntime struct {
	loops         []*eventLoop
	loopsCount    int
	queueCapacity int
	next          *atomic.Uint64
	closed        *atomic.Bool
	logger        log.Logger
}

// enforce compilation error
var _ Runtime = (*eventLoopRuntime)(nil)

// NewRuntime creates a Runtime backed by a pool of event loops. Each loop
// drains its own task queue with a single consumer goroutine that is spawned
// on demand and parked when the queue is empty.
func NewRuntime(opts ...Option) Runtime {
	rt := &eventLoopRuntime{
		loopsCount: 2 * goruntime.NumCPU(),
		next:       atomic.NewUint64(0),
		closed:     atomic.NewBool(false),
		logger:     log.DefaultLogger,
	}

	for _, opt := range opts {
		opt.Apply(rt)
	}

	rt.loops = make([]*eventLoop, rt.loopsCount)
	for i := range rt.loops {
		rt.loops[i] = newEventLoop(rt.queueCapacity, rt.closed, rt.logger)
	}
	return rt
}

// GetOrCreateContext returns one of the runtime's event loops. Distribution
// is round-robin so independent callers spread over the pool while any
// single returned context keeps strict ordering.
func (rt *eventLoopRuntime) GetOrCreateContext() Context {
	idx := rt.next.Inc() % uint64(len(rt.loops))
	return rt.loops[idx]
}

// Close stops accepting tasks and waits for every event loop to drain.
func (rt *eventLoopRuntime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, loop := range rt.loops {
		loop.drain()
	}
	return nil
}
