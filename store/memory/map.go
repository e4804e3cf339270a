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

package memory

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/internal/queue"
	"github.com/herd-io/herd/store"
)

// memoryMap keeps entries in a mutex-protected map. Every mutation publishes
// its change event to all open feeds while still holding the write lock, so
// feeds observe one total order per map.
type memoryMap struct {
	name    string
	mu      sync.RWMutex
	entries map[string][]byte
	feeds   map[*memoryFeed]struct{}
	closed  *atomic.Bool
}

// enforce compilation error
var _ store.Map = (*memoryMap)(nil)

func newMemoryMap(name string, closed *atomic.Bool) *memoryMap {
	return &memoryMap{
		name:    name,
		entries: make(map[string][]byte),
		feeds:   make(map[*memoryFeed]struct{}),
		closed:  closed,
	}
}

// Get returns the value stored under the given key.
func (m *memoryMap) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	m.mu.RLock()
	value, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return clone(value), nil
}

// Put stores the given value under the given key.
func (m *memoryMap) Put(_ context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	kept := clone(value)
	m.mu.Lock()
	m.entries[key] = kept
	m.publish(store.Event{Kind: store.EntryPut, Key: key, Value: clone(kept)})
	m.mu.Unlock()
	return nil
}

// Remove deletes the given key. Removing an absent key changes nothing and
// publishes nothing.
func (m *memoryMap) Remove(_ context.Context, key string) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	m.mu.Lock()
	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.publish(store.Event{Kind: store.EntryRemoved, Key: key})
	}
	m.mu.Unlock()
	return nil
}

// Entries returns a snapshot of all key-value pairs in the map.
func (m *memoryMap) Entries(_ context.Context) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string][]byte, len(m.entries))
	for key, value := range m.entries {
		snapshot[key] = clone(value)
	}
	return snapshot, nil
}

// Keys returns a snapshot of all keys in the map.
func (m *memoryMap) Keys(_ context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Size returns the number of entries in the map.
func (m *memoryMap) Size(_ context.Context) (int, error) {
	if m.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	m.mu.RLock()
	size := len(m.entries)
	m.mu.RUnlock()
	return size, nil
}

// Watch opens a change feed over the map.
func (m *memoryMap) Watch(context.Context) (store.Feed, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	feed := newMemoryFeed(m)
	m.mu.Lock()
	m.feeds[feed] = struct{}{}
	m.mu.Unlock()
	go feed.pump()
	return feed, nil
}

// publish queues the event on every open feed. Callers hold the write lock.
func (m *memoryMap) publish(event store.Event) {
	for feed := range m.feeds {
		feed.enqueue(event)
	}
}

func (m *memoryMap) unsubscribe(feed *memoryFeed) {
	m.mu.Lock()
	delete(m.feeds, feed)
	m.mu.Unlock()
}

func (m *memoryMap) closeFeeds() {
	for _, feed := range m.snapshotFeeds() {
		_ = feed.Close()
	}
}

func (m *memoryMap) failFeeds(err error) {
	for _, feed := range m.snapshotFeeds() {
		feed.fail(err)
	}
}

func (m *memoryMap) snapshotFeeds() []*memoryFeed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	feeds := make([]*memoryFeed, 0, len(m.feeds))
	for feed := range m.feeds {
		feeds = append(feeds, feed)
	}
	return feeds
}

func clone(value []byte) []byte {
	if value == nil {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

// memoryFeed buffers events in an MPSC queue so mutators never block on slow
// subscribers; a pump goroutine forwards them to the subscriber channel in
// order.
type memoryFeed struct {
	owner   *memoryMap
	pending *queue.MpscQueue[store.Event]
	notify  chan struct{}
	events  chan store.Event
	stop    chan struct{}
	stopped *atomic.Bool
	err     *atomic.Error
}

// enforce compilation error
var _ store.Feed = (*memoryFeed)(nil)

func newMemoryFeed(owner *memoryMap) *memoryFeed {
	return &memoryFeed{
		owner:   owner,
		pending: queue.NewMpscQueue[store.Event](),
		notify:  make(chan struct{}, 1),
		events:  make(chan store.Event),
		stop:    make(chan struct{}),
		stopped: atomic.NewBool(false),
		err:     atomic.NewError(nil),
	}
}

// Events returns the channel change events arrive on.
func (f *memoryFeed) Events() <-chan store.Event {
	return f.events
}

// Err returns the abnormal-termination cause, nil after an orderly Close.
func (f *memoryFeed) Err() error {
	return f.err.Load()
}

// Close terminates the feed and releases its subscription.
func (f *memoryFeed) Close() error {
	f.terminate(nil)
	return nil
}

func (f *memoryFeed) fail(err error) {
	f.terminate(err)
}

func (f *memoryFeed) terminate(err error) {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}
	f.err.Store(err)
	f.owner.unsubscribe(f)
	close(f.stop)
}

func (f *memoryFeed) enqueue(event store.Event) {
	f.pending.Push(event)
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *memoryFeed) pump() {
	defer close(f.events)
	for {
		select {
		case <-f.stop:
			return
		case <-f.notify:
			for {
				event, ok := f.pending.Pop()
				if !ok {
					break
				}
				select {
				case f.events <- event:
				case <-f.stop:
					return
				}
			}
		}
	}
}
