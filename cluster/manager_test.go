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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
	"github.com/herd-io/herd/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startedManager builds a manager over a fresh memory store, wires a
// single-loop runtime and starts it. Resync is disabled unless a test arms it.
func startedManager(t *testing.T, opts ...Option) (Manager, *memory.Store) {
	t.Helper()
	s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
	runtime := async.NewRuntime(async.WithLoops(1), async.WithLogger(log.DiscardLogger))

	opts = append([]Option{WithLogger(log.DiscardLogger), WithResyncInterval(0)}, opts...)
	m, err := New(s, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Init(runtime))
	require.NoError(t, m.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, m.Stop(context.Background()))
		require.NoError(t, s.Close(context.Background()))
		require.NoError(t, runtime.Close())
	})
	return m, s
}

// awaitResult drives a handler-taking operation and blocks until it completes.
func awaitResult[T any](t *testing.T, run func(async.Handler[T])) async.Result[T] {
	t.Helper()
	results := make(chan async.Result[T], 1)
	run(func(result async.Result[T]) {
		results <- result
	})
	select {
	case result := <-results:
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
		return async.Result[T]{}
	}
}

// recordingListener captures membership transitions in delivery order.
type recordingListener struct {
	mu     sync.Mutex
	events []string
	infos  map[string]NodeInfo
	lost   []error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{infos: make(map[string]NodeInfo)}
}

func (l *recordingListener) NodeAdded(nodeID string, info NodeInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "added:"+nodeID)
	l.infos[nodeID] = info
}

func (l *recordingListener) NodeLeft(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "left:"+nodeID)
}

func (l *recordingListener) MembershipLost(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "lost")
	l.lost = append(l.lost, err)
}

func (l *recordingListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *recordingListener) info(nodeID string) (NodeInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.infos[nodeID]
	return info, ok
}

func (l *recordingListener) lostCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lost)
}

func (l *recordingListener) lostErrs() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.lost))
	copy(out, l.lost)
	return out
}

func TestNew(t *testing.T) {
	t.Run("With nil store", func(t *testing.T) {
		m, err := New(nil)
		assert.ErrorIs(t, err, ErrNilStore)
		assert.Nil(t, m)
	})
	t.Run("With valid store", func(t *testing.T) {
		s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
		m, err := New(s, WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.False(t, m.IsActive())
		assert.Empty(t, m.NodeID())
		require.NoError(t, s.Close(context.Background()))
	})
}

func TestInit(t *testing.T) {
	s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
	defer func() { require.NoError(t, s.Close(context.Background())) }()

	m, err := New(s, WithLogger(log.DiscardLogger))
	require.NoError(t, err)

	t.Run("With nil runtime", func(t *testing.T) {
		assert.ErrorIs(t, m.Init(nil), ErrNilRuntime)
	})
	t.Run("With start before init", func(t *testing.T) {
		assert.ErrorIs(t, m.Start(context.Background()), ErrNotInitialized)
	})
	t.Run("With operations before init", func(t *testing.T) {
		result := awaitResult(t, m.Join)
		assert.ErrorIs(t, result.Err(), ErrNotInitialized)
		_, err := m.SyncMap("orders")
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestStartStop(t *testing.T) {
	t.Run("With start being idempotent", func(t *testing.T) {
		m, _ := startedManager(t)
		require.NoError(t, m.Start(context.Background()))
	})
	t.Run("With stop being idempotent", func(t *testing.T) {
		s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
		runtime := async.NewRuntime(async.WithLoops(1), async.WithLogger(log.DiscardLogger))
		m, err := New(s, WithLogger(log.DiscardLogger), WithResyncInterval(0))
		require.NoError(t, err)
		require.NoError(t, m.Init(runtime))
		require.NoError(t, m.Start(context.Background()))

		require.NoError(t, m.Stop(context.Background()))
		require.NoError(t, m.Stop(context.Background()))
		require.NoError(t, s.Close(context.Background()))
		require.NoError(t, runtime.Close())
	})
	t.Run("With operations before start", func(t *testing.T) {
		s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
		runtime := async.NewRuntime(async.WithLoops(1), async.WithLogger(log.DiscardLogger))
		m, err := New(s, WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NoError(t, m.Init(runtime))

		result := awaitResult(t, m.Join)
		assert.ErrorIs(t, result.Err(), ErrManagerNotStarted)

		_, err = m.SyncMap("orders")
		assert.ErrorIs(t, err, ErrManagerNotStarted)
		assert.ErrorIs(t, m.RegisterNodeListener(newRecordingListener()), ErrManagerNotStarted)
		assert.Empty(t, m.ListNodeIDs())

		mapResult := awaitResult(t, func(h async.Handler[AsyncMap]) { m.AsyncMap("orders", h) })
		assert.ErrorIs(t, mapResult.Err(), ErrManagerNotStarted)

		require.NoError(t, s.Close(context.Background()))
		require.NoError(t, runtime.Close())
	})
}

func TestJoin(t *testing.T) {
	t.Run("With successful join", func(t *testing.T) {
		m, s := startedManager(t, WithNodeHost("10.0.0.1"), WithNodePort(7000))

		result := awaitResult(t, m.Join)
		require.NoError(t, result.Err())
		assert.True(t, m.IsActive())
		require.NotEmpty(t, m.NodeID())

		nodeID := m.NodeID()
		require.Eventually(t, func() bool {
			for _, id := range m.ListNodeIDs() {
				if id == nodeID {
					return true
				}
			}
			return false
		}, time.Second, 10*time.Millisecond)

		// the membership entry carries this node's advertised address
		membershipMap, err := s.Map(MembershipMapName)
		require.NoError(t, err)
		encoded, err := membershipMap.Get(context.Background(), nodeID)
		require.NoError(t, err)
		info, err := decodeNodeInfo(encoded)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", info.Host)
		assert.Equal(t, 7000, info.Port)
	})
	t.Run("With double join", func(t *testing.T) {
		m, _ := startedManager(t)

		require.NoError(t, awaitResult(t, m.Join).Err())
		nodeID := m.NodeID()

		result := awaitResult(t, m.Join)
		assert.ErrorIs(t, result.Err(), ErrAlreadyActive)
		assert.True(t, m.IsActive())
		assert.Equal(t, nodeID, m.NodeID())
	})
	t.Run("With membership write failure reverting the transition", func(t *testing.T) {
		m, s := startedManager(t)
		require.NoError(t, s.Close(context.Background()))

		result := awaitResult(t, m.Join)
		assert.ErrorIs(t, result.Err(), store.ErrStoreClosed)
		assert.False(t, m.IsActive())
	})
}

func TestLeave(t *testing.T) {
	t.Run("With leave while inactive", func(t *testing.T) {
		m, _ := startedManager(t)

		result := awaitResult(t, m.Leave)
		assert.ErrorIs(t, result.Err(), ErrAlreadyInactive)
		assert.False(t, m.IsActive())
	})
	t.Run("With successful leave", func(t *testing.T) {
		m, s := startedManager(t)

		require.NoError(t, awaitResult(t, m.Join).Err())
		nodeID := m.NodeID()

		require.NoError(t, awaitResult(t, m.Leave).Err())
		assert.False(t, m.IsActive())

		membershipMap, err := s.Map(MembershipMapName)
		require.NoError(t, err)
		_, err = membershipMap.Get(context.Background(), nodeID)
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})
	t.Run("With rejoin acquiring a new identity", func(t *testing.T) {
		m, _ := startedManager(t)

		require.NoError(t, awaitResult(t, m.Join).Err())
		first := m.NodeID()
		require.NoError(t, awaitResult(t, m.Leave).Err())

		require.NoError(t, awaitResult(t, m.Join).Err())
		second := m.NodeID()
		assert.NotEqual(t, first, second)
		assert.True(t, m.IsActive())
	})
}

func TestStopRemovesActiveNode(t *testing.T) {
	s := memory.NewStore(memory.WithLogger(log.DiscardLogger))
	runtime := async.NewRuntime(async.WithLoops(1), async.WithLogger(log.DiscardLogger))
	m, err := New(s, WithLogger(log.DiscardLogger), WithResyncInterval(0))
	require.NoError(t, err)
	require.NoError(t, m.Init(runtime))
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, awaitResult(t, m.Join).Err())
	nodeID := m.NodeID()

	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.IsActive())

	membershipMap, err := s.Map(MembershipMapName)
	require.NoError(t, err)
	_, err = membershipMap.Get(context.Background(), nodeID)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, runtime.Close())
}
