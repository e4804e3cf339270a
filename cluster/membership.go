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
	"bytes"
	"context"
	"sync"

	goset "github.com/deckarep/golang-set/v2"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

// membershipView is the local, synchronously readable snapshot of the
// membership map. It is kept warm by the map's change feed and repaired by
// periodic reconciliation against full snapshots; both paths derive node
// added/left transitions by diffing against the known key set, so each
// transition is emitted exactly once, in observation order.
//
// The view doubles as the read-only map surface returned by SyncMap for the
// reserved membership name: reads are local, mutations and watches are
// rejected with ErrReservedName.
type membershipView struct {
	mu      sync.RWMutex
	entries map[string][]byte
	known   goset.Set[string]

	feed   store.Feed
	bridge *listenerBridge
	logger log.Logger
	done   chan struct{}
}

// enforce compilation error
var _ store.Map = (*membershipView)(nil)

func newMembershipView(feed store.Feed, bridge *listenerBridge, logger log.Logger) *membershipView {
	view := &membershipView{
		entries: make(map[string][]byte),
		known:   goset.NewSet[string](),
		feed:    feed,
		bridge:  bridge,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go view.pump()
	return view
}

// pump drains the change feed into the view. A feed that terminates with an
// error marks membership visibility as lost; an orderly close just ends the
// pump.
func (v *membershipView) pump() {
	defer close(v.done)
	for event := range v.feed.Events() {
		v.apply(event)
	}
	if err := v.feed.Err(); err != nil {
		v.bridge.membershipLost(err)
	}
}

// apply folds one change event into the view and forwards the derived
// transition, if any, to the bridge.
func (v *membershipView) apply(event store.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch event.Kind {
	case store.EntryPut:
		if v.known.Contains(event.Key) {
			// metadata refresh for a node we already know about
			v.entries[event.Key] = event.Value
			return
		}
		v.known.Add(event.Key)
		v.entries[event.Key] = event.Value
		info, err := decodeNodeInfo(event.Value)
		if err != nil {
			v.logger.Warnf("node=(%s) published an unreadable membership entry: %v", event.Key, err)
		}
		v.logger.Debugf("node=(%s) joined the membership view", event.Key)
		v.bridge.nodeAdded(event.Key, info)
	case store.EntryRemoved:
		if !v.known.Contains(event.Key) {
			return
		}
		v.known.Remove(event.Key)
		delete(v.entries, event.Key)
		v.logger.Debugf("node=(%s) left the membership view", event.Key)
		v.bridge.nodeLeft(event.Key)
	}
}

// reconcile merges a full snapshot of the membership map into the view,
// synthesizing the transitions the change feed missed. Used to warm the view
// at startup and by the periodic resync; store-side entry expiry becomes
// visible through this path.
func (v *membershipView) reconcile(snapshot map[string][]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fresh := goset.NewSet[string]()
	for nodeID := range snapshot {
		fresh.Add(nodeID)
	}

	added := fresh.Difference(v.known)
	removed := v.known.Difference(fresh)

	for _, nodeID := range added.ToSlice() {
		v.known.Add(nodeID)
		v.entries[nodeID] = snapshot[nodeID]
		info, err := decodeNodeInfo(snapshot[nodeID])
		if err != nil {
			v.logger.Warnf("node=(%s) published an unreadable membership entry: %v", nodeID, err)
		}
		v.logger.Debugf("node=(%s) joined the membership view", nodeID)
		v.bridge.nodeAdded(nodeID, info)
	}

	for _, nodeID := range removed.ToSlice() {
		v.known.Remove(nodeID)
		delete(v.entries, nodeID)
		v.logger.Debugf("node=(%s) left the membership view", nodeID)
		v.bridge.nodeLeft(nodeID)
	}

	// refresh metadata for surviving nodes
	for nodeID, value := range snapshot {
		if v.known.Contains(nodeID) {
			v.entries[nodeID] = value
		}
	}
}

// close ends the change feed and waits for the pump to drain. An orderly
// close never escalates as lost membership.
func (v *membershipView) close() {
	if err := v.feed.Close(); err != nil {
		v.logger.Warnf("failed to close the membership change feed: %v", err)
	}
	<-v.done
}

// NodeIDs returns the ids of the nodes currently in the view.
func (v *membershipView) NodeIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.known.ToSlice()
}

// Get returns the membership entry of the given node from the local view.
func (v *membershipView) Get(_ context.Context, key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.entries[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return bytes.Clone(value), nil
}

// Entries returns a copy of the whole local view.
func (v *membershipView) Entries(_ context.Context) (map[string][]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := make(map[string][]byte, len(v.entries))
	for key, value := range v.entries {
		entries[key] = bytes.Clone(value)
	}
	return entries, nil
}

// Keys returns the node ids currently in the view.
func (v *membershipView) Keys(_ context.Context) ([]string, error) {
	return v.NodeIDs(), nil
}

// Size returns the number of nodes currently in the view.
func (v *membershipView) Size(_ context.Context) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries), nil
}

// Put rejects mutation; only the lifecycle state machine writes membership.
func (v *membershipView) Put(context.Context, string, []byte) error {
	return ErrReservedName
}

// Remove rejects mutation; only the lifecycle state machine writes membership.
func (v *membershipView) Remove(context.Context, string) error {
	return ErrReservedName
}

// Watch rejects generic subscriptions; membership changes are observed
// through the registered node listener.
func (v *membershipView) Watch(context.Context) (store.Feed, error) {
	return nil, ErrReservedName
}
