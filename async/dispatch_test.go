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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herd-io/herd/log"
)

func TestDispatch(t *testing.T) {
	t.Run("With successful blocking work", func(t *testing.T) {
		rt := NewRuntime(WithLoops(1), WithLogger(log.DiscardLogger))
		results := make(chan Result[string], 1)

		Dispatch(rt, func() (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "done", nil
		}, func(result Result[string]) {
			results <- result
		})

		select {
		case result := <-results:
			require.True(t, result.Succeeded())
			require.Equal(t, "done", result.Value())
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
		require.NoError(t, rt.Close())
	})
	t.Run("With failing blocking work", func(t *testing.T) {
		rt := NewRuntime(WithLoops(1), WithLogger(log.DiscardLogger))
		failure := errors.New("boom")
		results := make(chan Result[string], 1)

		Dispatch(rt, func() (string, error) {
			return "", failure
		}, func(result Result[string]) {
			results <- result
		})

		select {
		case result := <-results:
			require.True(t, result.Failed())
			assert.ErrorIs(t, result.Err(), failure)
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
		require.NoError(t, rt.Close())
	})
	t.Run("With the caller goroutine never blocked", func(t *testing.T) {
		rt := NewRuntime(WithLoops(1), WithLogger(log.DiscardLogger))
		release := make(chan struct{})
		results := make(chan Result[Unit], 1)

		Dispatch(rt, func() (Unit, error) {
			<-release
			return Unit{}, nil
		}, func(result Result[Unit]) {
			results <- result
		})

		// reaching this line proves Dispatch returned while the work is
		// still pending
		close(release)
		select {
		case result := <-results:
			require.True(t, result.Succeeded())
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
		require.NoError(t, rt.Close())
	})
}

func TestDeliver(t *testing.T) {
	t.Run("With a known result", func(t *testing.T) {
		rt := NewRuntime(WithLoops(1), WithLogger(log.DiscardLogger))
		results := make(chan Result[int], 1)

		Deliver(rt, Success(7), func(result Result[int]) {
			results <- result
		})

		select {
		case result := <-results:
			require.True(t, result.Succeeded())
			require.Equal(t, 7, result.Value())
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
		require.NoError(t, rt.Close())
	})
	t.Run("With a nil handler", func(t *testing.T) {
		rt := NewRuntime(WithLoops(1), WithLogger(log.DiscardLogger))
		require.NotPanics(t, func() {
			Deliver(rt, Failure[int](errors.New("boom")), nil)
		})
		require.NoError(t, rt.Close())
	})
}
