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

package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMpscQueue(t *testing.T) {
	t.Run("With Push/Pop", func(t *testing.T) {
		q := NewMpscQueue[int]()
		require.True(t, q.IsEmpty())
		for j := 0; j < 100; j++ {
			if q.Len() != 0 {
				t.Fatal("expected no elements")
			} else if _, ok := q.Pop(); ok {
				t.Fatal("expected no elements")
			}

			for i := 0; i < j; i++ {
				q.Push(i)
			}

			for i := 0; i < j; i++ {
				if x, ok := q.Pop(); !ok {
					t.Fatal("expected an element")
				} else if x != i {
					t.Fatalf("expected %d got %d", i, x)
				}
			}
		}

		a := 0
		r := 0
		for j := 0; j < 100; j++ {
			for i := 0; i < 4; i++ {
				q.Push(a)
				a++
			}

			for i := 0; i < 2; i++ {
				if x, ok := q.Pop(); !ok {
					t.Fatal("expected an element")
				} else if x != r {
					t.Fatalf("expected %d got %d", r, x)
				}
				r++
			}
		}

		if q.Len() != 200 {
			t.Fatalf("expected 200 elements have %d", q.Len())
		}

		assert.True(t, q.Len() > 0)
	})
	t.Run("With concurrent producers", func(t *testing.T) {
		q := NewMpscQueue[int]()
		producers := 8
		perProducer := 100

		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					q.Push(i)
				}
			}()
		}
		wg.Wait()

		popped := 0
		for {
			if _, ok := q.Pop(); !ok {
				break
			}
			popped++
		}
		require.Equal(t, producers*perProducer, popped)
		require.True(t, q.IsEmpty())
	})
}

func TestBoundedQueue(t *testing.T) {
	t.Run("With Push/Pop", func(t *testing.T) {
		q := NewBoundedQueue[int](16)
		require.True(t, q.IsEmpty())
		require.EqualValues(t, 16, q.Cap())

		for i := 0; i < 10; i++ {
			require.NoError(t, q.Push(i))
		}
		require.EqualValues(t, 10, q.Len())

		for i := 0; i < 10; i++ {
			x, ok := q.Pop()
			require.True(t, ok)
			require.Equal(t, i, x)
		}

		_, ok := q.Pop()
		require.False(t, ok)
		require.True(t, q.IsEmpty())
	})
	t.Run("With backpressure when full", func(t *testing.T) {
		q := NewBoundedQueue[int](2)
		require.NoError(t, q.Push(1))
		require.NoError(t, q.Push(2))

		unblocked := make(chan error, 1)
		go func() {
			unblocked <- q.Push(3)
		}()

		// the producer is stuck until the consumer makes room
		x, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, 1, x)
		require.NoError(t, <-unblocked)
	})
	t.Run("With disposal", func(t *testing.T) {
		q := NewBoundedQueue[int](2)
		require.False(t, q.IsDisposed())
		q.Dispose()
		require.True(t, q.IsDisposed())
		require.Error(t, q.Push(1))
	})
}
