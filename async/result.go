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

// Package async defines the execution-context contract between herd and its
// host runtime: serialized task contexts, asynchronous results and the
// promise machinery used to deliver completions back onto those contexts.
//
// A default event-loop implementation is provided so the library is usable
// standalone; hosts with their own scheduler implement Runtime and Context.
package async

// Unit is the empty payload for operations that complete without a value.
type Unit struct{}

// Result represents the outcome of an asynchronous operation.
//
// It encapsulates both the success and failure states, ensuring that an
// operation can communicate either a valid value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Success returns a successful Result carrying the given value.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Failure returns a failed Result carrying the given error.
func Failure[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Succeeded returns true when the operation completed with a value.
func (x Result[T]) Succeeded() bool {
	return x.err == nil
}

// Failed returns true when the operation completed with an error.
func (x Result[T]) Failed() bool {
	return x.err != nil
}

// Value returns the value of the operation, if available.
//
// If the operation failed, this method returns the zero value. Call Err to
// check for errors.
func (x Result[T]) Value() T {
	return x.value
}

// Err returns the error encountered during the operation, if any.
func (x Result[T]) Err() error {
	return x.err
}

// Handler consumes the result of an asynchronous operation. Handlers are
// invoked on an execution context, never inline on the goroutine that
// started the operation.
type Handler[T any] func(Result[T])
