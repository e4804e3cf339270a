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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herd-io/herd/store"
)

func TestLock(t *testing.T) {
	endpoints := startEtcdServer(t)
	t.Run("With acquire release and reacquire", func(t *testing.T) {
		ctx := t.Context()
		s := newTestStore(t, endpoints)
		l, err := s.Lock("migration")
		require.NoError(t, err)

		held, err := l.Acquire(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, held)
		held.Release()

		held, err = l.Acquire(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, held)
		held.Release()
	})
	t.Run("With an immediate attempt when held", func(t *testing.T) {
		ctx := t.Context()
		s := newTestStore(t, endpoints)
		l, err := s.Lock("immediate")
		require.NoError(t, err)

		held, err := l.Acquire(ctx, time.Second)
		require.NoError(t, err)
		defer held.Release()

		// a timeout of zero makes a single attempt without waiting
		loser, err := l.Acquire(ctx, 0)
		assert.ErrorIs(t, err, store.ErrLockTimeout)
		assert.Nil(t, loser)
	})
	t.Run("With contention timing out", func(t *testing.T) {
		ctx := t.Context()
		s := newTestStore(t, endpoints)
		l, err := s.Lock("contended")
		require.NoError(t, err)

		held, err := l.Acquire(ctx, time.Second)
		require.NoError(t, err)
		defer held.Release()

		started := time.Now()
		loser, err := l.Acquire(ctx, 100*time.Millisecond)
		assert.ErrorIs(t, err, store.ErrLockTimeout)
		assert.Nil(t, loser)
		assert.GreaterOrEqual(t, time.Since(started), 100*time.Millisecond)
	})
	t.Run("With independent locks", func(t *testing.T) {
		ctx := t.Context()
		s := newTestStore(t, endpoints)

		first, err := s.Lock("independent-a")
		require.NoError(t, err)
		second, err := s.Lock("independent-b")
		require.NoError(t, err)

		heldFirst, err := first.Acquire(ctx, time.Second)
		require.NoError(t, err)
		defer heldFirst.Release()

		heldSecond, err := second.Acquire(ctx, time.Second)
		require.NoError(t, err)
		heldSecond.Release()
	})
	t.Run("With release unblocking a waiter", func(t *testing.T) {
		ctx := t.Context()
		s := newTestStore(t, endpoints)
		l, err := s.Lock("handover")
		require.NoError(t, err)

		held, err := l.Acquire(ctx, time.Second)
		require.NoError(t, err)

		type outcome struct {
			held store.Held
			err  error
		}
		waiter := make(chan outcome, 1)
		go func() {
			held, err := l.Acquire(ctx, 5*time.Second)
			waiter <- outcome{held: held, err: err}
		}()

		time.Sleep(50 * time.Millisecond)
		held.Release()

		select {
		case got := <-waiter:
			require.NoError(t, got.err)
			require.NotNil(t, got.held)
			got.held.Release()
		case <-time.After(5 * time.Second):
			t.Fatal("waiter never acquired the lock")
		}
	})
	t.Run("With release being idempotent", func(t *testing.T) {
		ctx := t.Context()
		s := newTestStore(t, endpoints)
		l, err := s.Lock("idempotent")
		require.NoError(t, err)

		held, err := l.Acquire(ctx, time.Second)
		require.NoError(t, err)
		held.Release()
		held.Release()

		// the lock frees exactly once
		again, err := l.Acquire(ctx, time.Second)
		require.NoError(t, err)
		defer again.Release()
		_, err = l.Acquire(ctx, 100*time.Millisecond)
		assert.ErrorIs(t, err, store.ErrLockTimeout)
	})
	t.Run("With two stores contending", func(t *testing.T) {
		ctx := t.Context()
		first := newTestStore(t, endpoints)
		second := newTestStore(t, endpoints)

		local, err := first.Lock("exclusive")
		require.NoError(t, err)
		remote, err := second.Lock("exclusive")
		require.NoError(t, err)

		held, err := local.Acquire(ctx, time.Second)
		require.NoError(t, err)

		_, err = remote.Acquire(ctx, 100*time.Millisecond)
		assert.ErrorIs(t, err, store.ErrLockTimeout)

		held.Release()
		handoff, err := remote.Acquire(ctx, 5*time.Second)
		require.NoError(t, err)
		handoff.Release()
	})
	t.Run("With a crashed holder freeing the lock", func(t *testing.T) {
		ctx := t.Context()
		holder := newTestStore(t, endpoints, WithLockLease(2*time.Second))
		waiter := newTestStore(t, endpoints)

		crashed, err := holder.Lock("crashed")
		require.NoError(t, err)
		stale, err := crashed.Acquire(ctx, time.Second)
		require.NoError(t, err)

		// closing the store stops the session keepalives; the lease expires
		// and frees the lock without a release
		require.NoError(t, holder.Close(ctx))

		l, err := waiter.Lock("crashed")
		require.NoError(t, err)
		held, err := l.Acquire(ctx, 15*time.Second)
		require.NoError(t, err)
		held.Release()

		// the stale release runs against a closed client and changes nothing
		stale.Release()
	})
	t.Run("With a canceled context", func(t *testing.T) {
		s := newTestStore(t, endpoints)
		l, err := s.Lock("canceled")
		require.NoError(t, err)

		held, err := l.Acquire(t.Context(), time.Second)
		require.NoError(t, err)
		defer held.Release()

		acquireCtx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		_, err = l.Acquire(acquireCtx, 5*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
	t.Run("With acquire rejected once closed", func(t *testing.T) {
		ctx := t.Context()
		s, err := NewStore(ctx, endpoints)
		require.NoError(t, err)
		l, err := s.Lock("closed")
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))

		_, err = l.Acquire(ctx, time.Second)
		assert.ErrorIs(t, err, store.ErrStoreClosed)
	})
}
