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

// Dispatch runs the given blocking function on a free goroutine and delivers
// its outcome to the handler through an execution context obtained from the
// runtime. The handler never runs inline on the caller's goroutine.
func Dispatch[T any](runtime Runtime, fn func() (T, error), handler Handler[T]) {
	promise := NewPromise(runtime.GetOrCreateContext(), handler)
	go func() {
		value, err := fn()
		if err != nil {
			promise.Fail(err)
			return
		}
		promise.Complete(value)
	}()
}

// Deliver posts an already known result to the handler through an execution
// context obtained from the runtime. Used for operations that fail fast but
// must still complete asynchronously.
func Deliver[T any](runtime Runtime, result Result[T], handler Handler[T]) {
	if handler == nil {
		return
	}
	runtime.GetOrCreateContext().RunOnContext(func() {
		handler(result)
	})
}
