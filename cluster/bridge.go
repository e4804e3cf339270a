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
	"sync"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/log"
)

// listenerBridge delivers membership transitions to the registered node
// listener. All invocations are posted onto one dedicated execution context
// so the listener observes them serialized, in emission order.
//
// The at-most-one-listener guard spans the whole manager lifetime; the bound
// context is refreshed on every manager start.
type listenerBridge struct {
	mu       sync.RWMutex
	listener NodeListener
	context  async.Context

	registered *atomic.Bool
	lost       *atomic.Bool
	logger     log.Logger
}

func newListenerBridge(logger log.Logger) *listenerBridge {
	return &listenerBridge{
		registered: atomic.NewBool(false),
		lost:       atomic.NewBool(false),
		logger:     logger,
	}
}

// bind attaches the execution context events are delivered on and clears the
// feed-lost latch for the new epoch.
func (b *listenerBridge) bind(context async.Context) {
	b.mu.Lock()
	b.context = context
	b.mu.Unlock()
	b.lost.Store(false)
}

// register attaches the listener. It succeeds at most once per bridge.
func (b *listenerBridge) register(listener NodeListener) error {
	if listener == nil {
		return ErrNilListener
	}
	if !b.registered.CompareAndSwap(false, true) {
		return ErrListenerAlreadySet
	}
	b.mu.Lock()
	b.listener = listener
	b.mu.Unlock()
	return nil
}

func (b *listenerBridge) isLost() bool {
	return b.lost.Load()
}

func (b *listenerBridge) sink() (NodeListener, async.Context) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listener, b.context
}

func (b *listenerBridge) nodeAdded(nodeID string, info NodeInfo) {
	if b.lost.Load() {
		return
	}
	listener, context := b.sink()
	if listener == nil || context == nil {
		return
	}
	context.RunOnContext(func() {
		listener.NodeAdded(nodeID, info)
	})
}

func (b *listenerBridge) nodeLeft(nodeID string) {
	if b.lost.Load() {
		return
	}
	listener, context := b.sink()
	if listener == nil || context == nil {
		return
	}
	context.RunOnContext(func() {
		listener.NodeLeft(nodeID)
	})
}

// membershipLost escalates a failed change feed exactly once. Node events are
// suppressed afterwards until the manager is restarted.
func (b *listenerBridge) membershipLost(err error) {
	if !b.lost.CompareAndSwap(false, true) {
		return
	}
	b.logger.Errorf("membership visibility degraded: %v", err)
	listener, context := b.sink()
	if listener == nil || context == nil {
		return
	}
	context.RunOnContext(func() {
		listener.MembershipLost(err)
	})
}
