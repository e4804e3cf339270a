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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herd-io/herd/async"
)

// counterOf resolves the named counter handle through the manager facade.
func counterOf(t *testing.T, m Manager, name string) Counter {
	t.Helper()
	result := awaitResult(t, func(h async.Handler[Counter]) { m.Counter(name, h) })
	require.NoError(t, result.Err())
	require.NotNil(t, result.Value())
	return result.Value()
}

// awaitInt64 drives one counter operation to completion.
func awaitInt64(t *testing.T, run func(async.Handler[int64])) int64 {
	t.Helper()
	result := awaitResult(t, run)
	require.NoError(t, result.Err())
	return result.Value()
}

func TestClusterCounter(t *testing.T) {
	t.Run("With a fresh counter at zero", func(t *testing.T) {
		m, _ := startedManager(t)
		hits := counterOf(t, m, "hits")

		assert.Equal(t, "hits", hits.Name())
		assert.EqualValues(t, 0, awaitInt64(t, hits.Get))
	})
	t.Run("With increments decrements and deltas", func(t *testing.T) {
		m, _ := startedManager(t)
		hits := counterOf(t, m, "hits")

		assert.EqualValues(t, 1, awaitInt64(t, hits.IncrementAndGet))
		assert.EqualValues(t, 1, awaitInt64(t, hits.GetAndIncrement))
		assert.EqualValues(t, 2, awaitInt64(t, hits.Get))
		assert.EqualValues(t, 1, awaitInt64(t, hits.DecrementAndGet))
		assert.EqualValues(t, 11, awaitInt64(t, func(h async.Handler[int64]) { hits.AddAndGet(10, h) }))
		assert.EqualValues(t, 11, awaitInt64(t, func(h async.Handler[int64]) { hits.GetAndAdd(-1, h) }))
		assert.EqualValues(t, 10, awaitInt64(t, hits.Get))
	})
	t.Run("With compare and set", func(t *testing.T) {
		m, _ := startedManager(t)
		hits := counterOf(t, m, "hits")

		swapped := awaitResult(t, func(h async.Handler[bool]) { hits.CompareAndSet(0, 42, h) })
		require.NoError(t, swapped.Err())
		assert.True(t, swapped.Value())

		swapped = awaitResult(t, func(h async.Handler[bool]) { hits.CompareAndSet(0, 7, h) })
		require.NoError(t, swapped.Err())
		assert.False(t, swapped.Value())

		assert.EqualValues(t, 42, awaitInt64(t, hits.Get))
	})
	t.Run("With the same handle per name", func(t *testing.T) {
		m, _ := startedManager(t)

		first := counterOf(t, m, "hits")
		second := counterOf(t, m, "hits")
		assert.Same(t, first, second)

		// both names resolve to the same underlying counter
		awaitInt64(t, first.IncrementAndGet)
		assert.EqualValues(t, 1, awaitInt64(t, second.Get))
	})
	t.Run("With concurrent increments converging", func(t *testing.T) {
		m, _ := startedManager(t)
		hits := counterOf(t, m, "hits")

		const increments = 200
		results := make(chan async.Result[int64], increments)
		for i := 0; i < increments; i++ {
			hits.IncrementAndGet(func(result async.Result[int64]) {
				results <- result
			})
		}
		for i := 0; i < increments; i++ {
			select {
			case result := <-results:
				require.NoError(t, result.Err())
			case <-time.After(5 * time.Second):
				t.Fatal("increments did not complete")
			}
		}

		assert.EqualValues(t, increments, awaitInt64(t, hits.Get))
	})
}
