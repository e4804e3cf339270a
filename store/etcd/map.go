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
	"fmt"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

// etcdMap keeps one etcd key per entry under the map's prefix. The cluster
// revision log is the one total order feeds observe, so every watcher sees
// the same event sequence per map.
type etcdMap struct {
	name       string
	dataPrefix string
	mu         sync.RWMutex
	feeds      map[*etcdFeed]struct{}
	kv         clientv3.KV
	watcher    clientv3.Watcher
	closed     *atomic.Bool
}

// enforce compilation error
var _ store.Map = (*etcdMap)(nil)

func newEtcdMap(name string, kv clientv3.KV, watcher clientv3.Watcher, closed *atomic.Bool) *etcdMap {
	return &etcdMap{
		name:       name,
		dataPrefix: mapKeyPrefix + nameKey(name) + "/",
		feeds:      make(map[*etcdFeed]struct{}),
		kv:         kv,
		watcher:    watcher,
		closed:     closed,
	}
}

// Get returns the value stored under the given key.
func (m *etcdMap) Get(ctx context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	resp, err := m.kv.Get(ctx, m.dataPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("failed to read key=(%s) from map=(%s): %w", key, m.name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, store.ErrKeyNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Put stores the given value under the given key.
func (m *etcdMap) Put(ctx context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	if _, err := m.kv.Put(ctx, m.dataPrefix+key, string(value)); err != nil {
		return fmt.Errorf("failed to write key=(%s) to map=(%s): %w", key, m.name, err)
	}
	return nil
}

// Remove deletes the given key. Removing an absent key changes nothing and
// the cluster publishes no event for it.
func (m *etcdMap) Remove(ctx context.Context, key string) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	if _, err := m.kv.Delete(ctx, m.dataPrefix+key); err != nil {
		return fmt.Errorf("failed to remove key=(%s) from map=(%s): %w", key, m.name, err)
	}
	return nil
}

// Entries returns a snapshot of all key-value pairs in the map.
func (m *etcdMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	resp, err := m.kv.Get(ctx, m.dataPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
	}
	entries := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entries[strings.TrimPrefix(string(kv.Key), m.dataPrefix)] = kv.Value
	}
	return entries, nil
}

// Keys returns a snapshot of all keys in the map.
func (m *etcdMap) Keys(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	resp, err := m.kv.Get(ctx, m.dataPrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of map=(%s): %w", m.name, err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), m.dataPrefix))
	}
	return keys, nil
}

// Size returns the number of entries in the map.
func (m *etcdMap) Size(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	resp, err := m.kv.Get(ctx, m.dataPrefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("failed to size map=(%s): %w", m.name, err)
	}
	return int(resp.Count), nil
}

// Watch opens a change feed over the map. The first watch response is the
// server confirming the registration and is consumed before the feed is
// returned, so no event published after Watch returns is missed.
func (m *etcdMap) Watch(ctx context.Context) (store.Feed, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	watchCtx, cancel := context.WithCancel(ctx)
	watch := m.watcher.Watch(watchCtx, m.dataPrefix, clientv3.WithPrefix(), clientv3.WithCreatedNotify())

	select {
	case resp, ok := <-watch:
		if !ok {
			cancel()
			return nil, fmt.Errorf("failed to watch map=(%s): the watch channel closed", m.name)
		}
		if err := resp.Err(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to watch map=(%s): %w", m.name, err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	feed := newEtcdFeed(m, watch, watchCtx, cancel)
	m.mu.Lock()
	m.feeds[feed] = struct{}{}
	m.mu.Unlock()
	go feed.pump()
	return feed, nil
}

func (m *etcdMap) unsubscribe(feed *etcdFeed) {
	m.mu.Lock()
	delete(m.feeds, feed)
	m.mu.Unlock()
}

func (m *etcdMap) closeFeeds() {
	m.mu.RLock()
	feeds := make([]*etcdFeed, 0, len(m.feeds))
	for feed := range m.feeds {
		feeds = append(feeds, feed)
	}
	m.mu.RUnlock()
	for _, feed := range feeds {
		_ = feed.Close()
	}
}

func (m *etcdMap) toEvent(ev *clientv3.Event) (store.Event, bool) {
	key := strings.TrimPrefix(string(ev.Kv.Key), m.dataPrefix)
	switch ev.Type {
	case clientv3.EventTypePut:
		return store.Event{Kind: store.EntryPut, Key: key, Value: ev.Kv.Value}, true
	case clientv3.EventTypeDelete:
		return store.Event{Kind: store.EntryRemoved, Key: key}, true
	default:
		return store.Event{}, false
	}
}

// etcdFeed forwards one watch's responses to the subscriber channel. The
// watch channel closing while the feed is still open means the watch was
// lost; after Close it is the watch tearing down and stays silent.
type etcdFeed struct {
	owner    *etcdMap
	watch    clientv3.WatchChan
	watchCtx context.Context
	cancel   context.CancelFunc
	events   chan store.Event
	stop     chan struct{}
	stopped  *atomic.Bool
	err      *atomic.Error
}

// enforce compilation error
var _ store.Feed = (*etcdFeed)(nil)

func newEtcdFeed(owner *etcdMap, watch clientv3.WatchChan, watchCtx context.Context, cancel context.CancelFunc) *etcdFeed {
	return &etcdFeed{
		owner:    owner,
		watch:    watch,
		watchCtx: watchCtx,
		cancel:   cancel,
		events:   make(chan store.Event),
		stop:     make(chan struct{}),
		stopped:  atomic.NewBool(false),
		err:      atomic.NewError(nil),
	}
}

// Events returns the channel change events arrive on.
func (f *etcdFeed) Events() <-chan store.Event {
	return f.events
}

// Err returns the abnormal-termination cause, nil after an orderly Close.
func (f *etcdFeed) Err() error {
	return f.err.Load()
}

// Close terminates the feed and releases its watch.
func (f *etcdFeed) Close() error {
	f.terminate(nil)
	return nil
}

func (f *etcdFeed) terminate(err error) {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}
	f.err.Store(err)
	f.owner.unsubscribe(f)
	close(f.stop)
	f.cancel()
}

func (f *etcdFeed) pump() {
	defer close(f.events)
	for resp := range f.watch {
		if err := resp.Err(); err != nil {
			if f.stopped.Load() {
				return
			}
			f.terminate(fmt.Errorf("lost the watch on map=(%s): %w", f.owner.name, err))
			return
		}
		for _, ev := range resp.Events {
			event, ok := f.owner.toEvent(ev)
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
	if f.stopped.Load() {
		return
	}
	f.terminate(f.cause())
}

func (f *etcdFeed) cause() error {
	if err := f.watchCtx.Err(); err != nil {
		return fmt.Errorf("lost the watch on map=(%s): %w", f.owner.name, err)
	}
	return fmt.Errorf("lost the watch on map=(%s)", f.owner.name)
}
