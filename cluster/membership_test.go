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
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
	"github.com/herd-io/herd/store/memory"
)

// membershipMapOf opens a raw handle on the membership map, bypassing the
// manager the way another process sharing the store would.
func membershipMapOf(t *testing.T, s *memory.Store) store.Map {
	t.Helper()
	m, err := s.Map(MembershipMapName)
	require.NoError(t, err)
	return m
}

func encodedInfo(t *testing.T, info NodeInfo) []byte {
	t.Helper()
	encoded, err := encodeNodeInfo(info)
	require.NoError(t, err)
	return encoded
}

func TestRegisterNodeListener(t *testing.T) {
	t.Run("With nil listener", func(t *testing.T) {
		m, _ := startedManager(t)
		assert.ErrorIs(t, m.RegisterNodeListener(nil), ErrNilListener)
	})
	t.Run("With a single listener slot", func(t *testing.T) {
		m, s := startedManager(t)

		first := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(first))

		second := newRecordingListener()
		assert.ErrorIs(t, m.RegisterNodeListener(second), ErrListenerAlreadySet)

		// the first listener keeps the slot
		ctx := context.Background()
		membershipMap := membershipMapOf(t, s)
		require.NoError(t, membershipMap.Put(ctx, "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))

		require.Eventually(t, func() bool {
			return slices.Contains(first.snapshot(), "added:ghost")
		}, time.Second, 10*time.Millisecond)
		assert.Empty(t, second.snapshot())
	})
}

func TestNodeListenerEvents(t *testing.T) {
	t.Run("With a remote node joining and leaving", func(t *testing.T) {
		m, s := startedManager(t)

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		ctx := context.Background()
		membershipMap := membershipMapOf(t, s)
		require.NoError(t, membershipMap.Put(ctx, "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))
		require.NoError(t, membershipMap.Remove(ctx, "ghost"))

		require.Eventually(t, func() bool {
			return len(listener.snapshot()) >= 2
		}, time.Second, 10*time.Millisecond)

		assert.Equal(t, []string{"added:ghost", "left:ghost"}, listener.snapshot())
		info, ok := listener.info("ghost")
		require.True(t, ok)
		assert.Equal(t, NodeInfo{Host: "10.0.0.9", Port: 9000}, info)
	})
	t.Run("With the local node joining and leaving", func(t *testing.T) {
		m, _ := startedManager(t)

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		require.NoError(t, awaitResult(t, m.Join).Err())
		nodeID := m.NodeID()
		require.NoError(t, awaitResult(t, m.Leave).Err())

		require.Eventually(t, func() bool {
			return len(listener.snapshot()) >= 2
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"added:" + nodeID, "left:" + nodeID}, listener.snapshot())
	})
	t.Run("With a metadata refresh staying silent", func(t *testing.T) {
		m, s := startedManager(t)

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		ctx := context.Background()
		membershipMap := membershipMapOf(t, s)
		require.NoError(t, membershipMap.Put(ctx, "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))
		require.NoError(t, membershipMap.Put(ctx, "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9001})))

		// the refreshed metadata lands in the view without a second event
		view, err := m.SyncMap(MembershipMapName)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			encoded, err := view.Get(ctx, "ghost")
			if err != nil {
				return false
			}
			info, err := decodeNodeInfo(encoded)
			return err == nil && info.Port == 9001
		}, time.Second, 10*time.Millisecond)

		require.NoError(t, membershipMap.Remove(ctx, "ghost"))
		require.Eventually(t, func() bool {
			return len(listener.snapshot()) >= 2
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"added:ghost", "left:ghost"}, listener.snapshot())
	})
	t.Run("With an unreadable membership entry", func(t *testing.T) {
		m, s := startedManager(t)

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		membershipMap := membershipMapOf(t, s)
		require.NoError(t, membershipMap.Put(context.Background(), "ghost", []byte("not-a-membership-entry")))

		// presence still counts even when the metadata cannot be decoded
		require.Eventually(t, func() bool {
			return slices.Contains(listener.snapshot(), "added:ghost")
		}, time.Second, 10*time.Millisecond)
		info, ok := listener.info("ghost")
		require.True(t, ok)
		assert.Equal(t, NodeInfo{}, info)
	})
}

func TestMembershipViewAccess(t *testing.T) {
	t.Run("With reads served from the local view", func(t *testing.T) {
		m, s := startedManager(t)

		ctx := context.Background()
		encoded := encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})
		require.NoError(t, membershipMapOf(t, s).Put(ctx, "ghost", encoded))

		view, err := m.SyncMap(MembershipMapName)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			size, err := view.Size(ctx)
			return err == nil && size == 1
		}, time.Second, 10*time.Millisecond)

		value, err := view.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.Equal(t, encoded, value)

		keys, err := view.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ghost"}, keys)

		entries, err := view.Entries(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"ghost": encoded}, entries)

		_, err = view.Get(ctx, "stranger")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})
	t.Run("With mutations rejected", func(t *testing.T) {
		m, _ := startedManager(t)

		view, err := m.SyncMap(MembershipMapName)
		require.NoError(t, err)

		ctx := context.Background()
		assert.ErrorIs(t, view.Put(ctx, "ghost", []byte("payload")), ErrReservedName)
		assert.ErrorIs(t, view.Remove(ctx, "ghost"), ErrReservedName)
		feed, err := view.Watch(ctx)
		assert.ErrorIs(t, err, ErrReservedName)
		assert.Nil(t, feed)
	})
	t.Run("With the async map surface rejected", func(t *testing.T) {
		m, _ := startedManager(t)

		result := awaitResult(t, func(h async.Handler[AsyncMap]) { m.AsyncMap(MembershipMapName, h) })
		assert.ErrorIs(t, result.Err(), ErrReservedName)
	})
}

func TestMembershipWarmup(t *testing.T) {
	s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
	runtime := async.NewRuntime(async.WithLoops(1), async.WithLogger(log.DiscardLogger))

	// two nodes are already in the cluster before this one starts
	ctx := context.Background()
	membershipMap, err := s.Map(MembershipMapName)
	require.NoError(t, err)
	require.NoError(t, membershipMap.Put(ctx, "node-1", encodedInfo(t, NodeInfo{Host: "10.0.0.1", Port: 7000})))
	require.NoError(t, membershipMap.Put(ctx, "node-2", encodedInfo(t, NodeInfo{Host: "10.0.0.2", Port: 7000})))

	m, err := New(s, WithLogger(log.DiscardLogger), WithResyncInterval(0))
	require.NoError(t, err)
	require.NoError(t, m.Init(runtime))
	require.NoError(t, m.Start(ctx))

	assert.ElementsMatch(t, []string{"node-1", "node-2"}, m.ListNodeIDs())

	view, err := m.SyncMap(MembershipMapName)
	require.NoError(t, err)
	size, err := view.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, runtime.Close())
}

func TestMembershipResync(t *testing.T) {
	t.Run("With a silent departure repaired", func(t *testing.T) {
		m, s := startedManager(t, WithResyncInterval(50*time.Millisecond))

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		ctx := context.Background()
		membershipMap := membershipMapOf(t, s)
		require.NoError(t, membershipMap.Put(ctx, "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))
		require.Eventually(t, func() bool {
			return slices.Contains(listener.snapshot(), "added:ghost")
		}, time.Second, 10*time.Millisecond)

		// quiesce the change feed so the removal below goes unseen, the way a
		// store-side expiry would
		mgr := m.(*manager)
		mgr.mu.Lock()
		view := mgr.membership
		mgr.mu.Unlock()
		require.NoError(t, view.feed.Close())

		require.NoError(t, membershipMap.Remove(ctx, "ghost"))
		require.Eventually(t, func() bool {
			return slices.Contains(listener.snapshot(), "left:ghost")
		}, time.Second, 10*time.Millisecond)
	})
	t.Run("With a silent arrival repaired", func(t *testing.T) {
		m, s := startedManager(t, WithResyncInterval(50*time.Millisecond))

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		mgr := m.(*manager)
		mgr.mu.Lock()
		view := mgr.membership
		mgr.mu.Unlock()
		require.NoError(t, view.feed.Close())

		membershipMap := membershipMapOf(t, s)
		require.NoError(t, membershipMap.Put(context.Background(), "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))
		require.Eventually(t, func() bool {
			return slices.Contains(listener.snapshot(), "added:ghost")
		}, time.Second, 10*time.Millisecond)
	})
}

func TestMembershipLost(t *testing.T) {
	t.Run("With the loss reported exactly once", func(t *testing.T) {
		m, s := startedManager(t, WithResyncInterval(50*time.Millisecond))

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		failure := errors.New("notification channel torn down")
		s.Disconnect(failure)

		require.Eventually(t, func() bool {
			return listener.lostCount() == 1
		}, time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, listener.lostErrs()[0], failure)

		// no ordinary membership traffic after the loss, resync included
		require.NoError(t, membershipMapOf(t, s).Put(context.Background(), "late", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))
		time.Sleep(250 * time.Millisecond)
		assert.NotContains(t, listener.snapshot(), "added:late")
		assert.Equal(t, 1, listener.lostCount())
	})
	t.Run("With a restart restoring visibility", func(t *testing.T) {
		s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
		runtime := async.NewRuntime(async.WithLoops(1), async.WithLogger(log.DiscardLogger))
		m, err := New(s, WithLogger(log.DiscardLogger), WithResyncInterval(0))
		require.NoError(t, err)
		require.NoError(t, m.Init(runtime))

		ctx := context.Background()
		require.NoError(t, m.Start(ctx))

		listener := newRecordingListener()
		require.NoError(t, m.RegisterNodeListener(listener))

		s.Disconnect(errors.New("notification channel torn down"))
		require.Eventually(t, func() bool {
			return listener.lostCount() == 1
		}, time.Second, 10*time.Millisecond)

		// the store itself is still reachable, so a restart resubscribes and
		// recovers the membership view
		require.NoError(t, m.Stop(ctx))
		require.NoError(t, m.Start(ctx))

		require.NoError(t, membershipMapOf(t, s).Put(ctx, "ghost", encodedInfo(t, NodeInfo{Host: "10.0.0.9", Port: 9000})))
		require.Eventually(t, func() bool {
			return slices.Contains(listener.snapshot(), "added:ghost")
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, listener.lostCount())

		require.NoError(t, m.Stop(ctx))
		require.NoError(t, s.Close(ctx))
		require.NoError(t, runtime.Close())
	})
}
