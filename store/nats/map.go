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

package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

// natsMap is one KV bucket. The bucket's stream sequence is the one total
// order feeds observe.
type natsMap struct {
	name   string
	kv     nats.KeyValue
	mu     sync.RWMutex
	feeds  map[*natsFeed]struct{}
	closed *atomic.Bool
}

// enforce compilation error
var _ store.Map = (*natsMap)(nil)

func newNatsMap(name string, kv nats.KeyValue, closed *atomic.Bool) *natsMap {
	return &natsMap{
		name:   name,
		kv:     kv,
		feeds:  make(map[*natsFeed]struct{}),
		closed: closed,
	}
}

// Get returns the value stored under the given key.
func (m *natsMap) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	entry, err := m.kv.Get(keyName(key))
	switch {
	case errors.Is(err, nats.ErrKeyNotFound), errors.Is(err, nats.ErrKeyDeleted):
		return nil, store.ErrKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read key=(%s) from map=(%s): %w", key, m.name, err)
	default:
		return entry.Value(), nil
	}
}

// Put stores the given value under the given key.
func (m *natsMap) Put(_ context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	if _, err := m.kv.Put(keyName(key), value); err != nil {
		return fmt.Errorf("failed to write key=(%s) to map=(%s): %w", key, m.name, err)
	}
	return nil
}

// Remove deletes the given key. Removing an absent key changes nothing and
// publishes nothing.
func (m *natsMap) Remove(_ context.Context, key string) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	encoded := keyName(key)
	if _, err := m.kv.Get(encoded); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted) {
			return nil
		}
		return fmt.Errorf("failed to remove key=(%s) from map=(%s): %w", key, m.name, err)
	}
	if err := m.kv.Delete(encoded); err != nil &&
		!errors.Is(err, nats.ErrKeyNotFound) && !errors.Is(err, nats.ErrKeyDeleted) {
		return fmt.Errorf("failed to remove key=(%s) from map=(%s): %w", key, m.name, err)
	}
	return nil
}

// Entries returns a snapshot of all key-value pairs in the map.
func (m *natsMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	lister, err := m.kv.ListKeys(nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
	}
	defer func() { _ = lister.Stop() }()

	entries := make(map[string][]byte)
	for encoded := range lister.Keys() {
		key, ok := parseKeyName(encoded)
		if !ok {
			continue
		}
		entry, err := m.kv.Get(encoded)
		if err != nil {
			// removed between the listing and the read
			if errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted) {
				continue
			}
			return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
		}
		if entry.Operation() != nats.KeyValuePut {
			continue
		}
		entries[key] = entry.Value()
	}
	for err := range lister.Error() {
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
		}
	}
	return entries, nil
}

// Keys returns a snapshot of all keys in the map.
func (m *natsMap) Keys(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	lister, err := m.kv.ListKeys(nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of map=(%s): %w", m.name, err)
	}
	defer func() { _ = lister.Stop() }()

	keys := make([]string, 0)
	for encoded := range lister.Keys() {
		if key, ok := parseKeyName(encoded); ok {
			keys = append(keys, key)
		}
	}
	for err := range lister.Error() {
		if err != nil {
			return nil, fmt.Errorf("failed to list keys of map=(%s): %w", m.name, err)
		}
	}
	return keys, nil
}

// Size returns the number of entries in the map.
func (m *natsMap) Size(ctx context.Context) (int, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Watch opens a change feed over the map. The watcher replays the bucket's
// current values before streaming; the feed swallows the replay and delivers
// live updates only.
func (m *natsMap) Watch(ctx context.Context) (store.Feed, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	watcher, err := m.kv.Watch(nats.AllKeys, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to watch map=(%s): %w", m.name, err)
	}
	feed := newNatsFeed(m, watcher, ctx)
	m.mu.Lock()
	m.feeds[feed] = struct{}{}
	m.mu.Unlock()
	go feed.pump()
	return feed, nil
}

func (m *natsMap) unsubscribe(feed *natsFeed) {
	m.mu.Lock()
	delete(m.feeds, feed)
	m.mu.Unlock()
}

func (m *natsMap) closeFeeds() {
	m.mu.RLock()
	feeds := make([]*natsFeed, 0, len(m.feeds))
	for feed := range m.feeds {
		feeds = append(feeds, feed)
	}
	m.mu.RUnlock()
	for _, feed := range feeds {
		_ = feed.Close()
	}
}

// natsFeed forwards one watcher's updates to the subscriber channel. The
// updates channel closing while the feed is still open means the watch was
// lost; after Close it is the watcher tearing down and stays silent.
type natsFeed struct {
	owner    *natsMap
	watcher  nats.KeyWatcher
	watchCtx context.Context
	events   chan store.Event
	stop     chan struct{}
	stopped  *atomic.Bool
	err      *atomic.Error
}

// enforce compilation error
var _ store.Feed = (*natsFeed)(nil)

func newNatsFeed(owner *natsMap, watcher nats.KeyWatcher, watchCtx context.Context) *natsFeed {
	return &natsFeed{
		owner:    owner,
		watcher:  watcher,
		watchCtx: watchCtx,
		events:   make(chan store.Event),
		stop:     make(chan struct{}),
		stopped:  atomic.NewBool(false),
		err:      atomic.NewError(nil),
	}
}

// Events returns the channel change events arrive on.
func (f *natsFeed) Events() <-chan store.Event {
	return f.events
}

// Err returns the abnormal-termination cause, nil after an orderly Close.
func (f *natsFeed) Err() error {
	return f.err.Load()
}

// Close terminates the feed and releases its subscription.
func (f *natsFeed) Close() error {
	f.terminate(nil)
	return nil
}

func (f *natsFeed) terminate(err error) {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}
	f.err.Store(err)
	f.owner.unsubscribe(f)
	close(f.stop)
	_ = f.watcher.Stop()
}

func (f *natsFeed) pump() {
	defer close(f.events)
	replaying := true
	for {
		entry, ok := <-f.watcher.Updates()
		if !ok {
			if f.stopped.Load() {
				return
			}
			f.terminate(f.cause())
			return
		}
		if entry == nil {
			// the nil sentinel separates the replay from live updates
			replaying = false
			continue
		}
		if replaying {
			continue
		}
		event, ok := toEvent(entry)
		if !ok {
			continue
		}
		select {
		case f.events <- event:
		case <-f.stop:
			return
		}
	}
}

func (f *natsFeed) cause() error {
	if err := f.watchCtx.Err(); err != nil {
		return fmt.Errorf("lost the watch on map=(%s): %w", f.owner.name, err)
	}
	return fmt.Errorf("lost the watch on map=(%s)", f.owner.name)
}

func toEvent(entry nats.KeyValueEntry) (store.Event, bool) {
	key, ok := parseKeyName(entry.Key())
	if !ok {
		return store.Event{}, false
	}
	switch entry.Operation() {
	case nats.KeyValuePut:
		return store.Event{Kind: store.EntryPut, Key: key, Value: entry.Value()}, true
	case nats.KeyValueDelete, nats.KeyValuePurge:
		return store.Event{Kind: store.EntryRemoved, Key: key}, true
	default:
		return store.Event{}, false
	}
}
