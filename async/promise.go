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

import "go.uber.org/atomic"

// Promise is a writable, single-assignment container that delivers its
// Result to a handler on a bound execution context. A Promise completes
// exactly once; later completions are ignored.
type Promise[T any] struct {
	ctx       Context
	handler   Handler[T]
	completed *atomic.Bool
}

// NewPromise creates a Promise bound to the given context and handler.
// The context must not be nil; a nil handler turns completion into a no-op.
func NewPromise[T any](ctx Context, handler Handler[T]) *Promise[T] {
	return &Promise[T]{
		ctx:       ctx,
		handler:   handler,
		completed: atomic.NewBool(false),
	}
}

// Complete resolves the promise with a value. It reports whether this call
// won the completion.
func (p *Promise[T]) Complete(value T) bool {
	return p.deliver(Success(value))
}

// Fail resolves the promise with an error. It reports whether this call won
// the completion.
func (p *Promise[T]) Fail(err error) bool {
	return p.deliver(Failure[T](err))
}

// IsCompleted returns true once the promise has been resolved.
func (p *Promise[T]) IsCompleted() bool {
	return p.completed.Load()
}

func (p *Promise[T]) deliver(result Result[T]) bool {
	if !p.completed.CompareAndSwap(false, true) {
		return false
	}
	if p.handler == nil {
		return true
	}
	p.ctx.RunOnContext(func() {
		p.handler(result)
	})
	return true
}
