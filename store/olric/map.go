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

package olric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tochemey/olric"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	eventKindPut     = "put"
	eventKindRemoved = "removed"
)

// mapEvent is the wire form of a change event on the map's pub/sub channel.
type mapEvent struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// olricMap keeps entries in a DMap and announces every mutation on the map's
// pub/sub channel once the write landed. Olric fans pub/sub messages out to
// the whole data cluster, so feeds observe mutations from every member.
type olricMap struct {
	name      string
	eventsKey string
	mu        sync.RWMutex
	feeds     map[*olricFeed]struct{}
	dmap      olric.DMap
	pubSub    *olric.PubSub
	closed    *atomic.Bool
	logger    log.Logger
}

// enforce compilation error
var _ store.Map = (*olricMap)(nil)

func newOlricMap(name string, dmap olric.DMap, pubSub *olric.PubSub, closed *atomic.Bool, logger log.Logger) *olricMap {
	return &olricMap{
		name:      name,
		eventsKey: eventsKeyPrefix + name,
		feeds:     make(map[*olricFeed]struct{}),
		dmap:      dmap,
		pubSub:    pubSub,
		closed:    closed,
		logger:    logger,
	}
}

// Get returns the value stored under the given key.
func (m *olricMap) Get(ctx context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	resp, err := m.dmap.Get(ctx, key)
	switch {
	case errors.Is(err, olric.ErrKeyNotFound):
		return nil, store.ErrKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read key=(%s) from map=(%s): %w", key, m.name, err)
	}
	value, err := resp.Byte()
	if err != nil {
		return nil, fmt.Errorf("failed to read key=(%s) from map=(%s): %w", key, m.name, err)
	}
	return value, nil
}

// Put stores the given value under the given key. The change event is
// published after the write; a lost publish leaves the data intact and is
// repaired by the next resync of whoever watches.
func (m *olricMap) Put(ctx context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	if err := m.dmap.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write key=(%s) to map=(%s): %w", key, m.name, err)
	}
	m.announce(ctx, mapEvent{Kind: eventKindPut, Key: key, Value: value})
	return nil
}

// Remove deletes the given key. Removing an absent key changes nothing and
// publishes nothing.
func (m *olricMap) Remove(ctx context.Context, key string) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	removed, err := m.dmap.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to remove key=(%s) from map=(%s): %w", key, m.name, err)
	}
	if removed > 0 {
		m.announce(ctx, mapEvent{Kind: eventKindRemoved, Key: key})
	}
	return nil
}

// Entries returns a snapshot of all key-value pairs in the map. Entries
// deleted between the scan and the read are skipped.
func (m *olricMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	scanner, err := m.dmap.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
	}
	defer scanner.Close()

	entries := make(map[string][]byte)
	for scanner.Next() {
		key := scanner.Key()
		resp, err := m.dmap.Get(ctx, key)
		if errors.Is(err, olric.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
		}
		value, err := resp.Byte()
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
		}
		entries[key] = value
	}
	return entries, nil
}

// Keys returns a snapshot of all keys in the map.
func (m *olricMap) Keys(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	scanner, err := m.dmap.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of map=(%s): %w", m.name, err)
	}
	defer scanner.Close()

	var keys []string
	for scanner.Next() {
		keys = append(keys, scanner.Key())
	}
	return keys, nil
}

// Size returns the number of entries in the map.
func (m *olricMap) Size(ctx context.Context) (int, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Watch opens a change feed over the map.
func (m *olricMap) Watch(ctx context.Context) (store.Feed, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	subscriber := m.pubSub.Subscribe(ctx, m.eventsKey)
	if _, err := subscriber.Receive(ctx); err != nil {
		_ = subscriber.Close()
		return nil, fmt.Errorf("failed to watch map=(%s): %w", m.name, err)
	}
	feed := newOlricFeed(m, subscriber)
	m.mu.Lock()
	m.feeds[feed] = struct{}{}
	m.mu.Unlock()
	go feed.pump()
	return feed, nil
}

// announce publishes the event on the map's channel. Publish failures are
// logged and swallowed: the write already landed.
func (m *olricMap) announce(ctx context.Context, event mapEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Warnf("failed to encode a change event for map=(%s): %v", m.name, err)
		return
	}
	if _, err := m.pubSub.Publish(ctx, m.eventsKey, string(payload)); err != nil {
		m.logger.Warnf("failed to publish a change event for map=(%s): %v", m.name, err)
	}
}

func (m *olricMap) unsubscribe(feed *olricFeed) {
	m.mu.Lock()
	delete(m.feeds, feed)
	m.mu.Unlock()
}

func (m *olricMap) closeFeeds() {
	m.mu.RLock()
	feeds := make([]*olricFeed, 0, len(m.feeds))
	for feed := range m.feeds {
		feeds = append(feeds, feed)
	}
	m.mu.RUnlock()
	for _, feed := range feeds {
		_ = feed.Close()
	}
}

// olricFeed forwards one subscription's message pipeline to the subscriber
// channel. The pipeline ending while the feed is still open terminates it
// abnormally; the same after Close is the subscription tearing down and
// stays silent.
type olricFeed struct {
	owner      *olricMap
	subscriber *goredis.PubSub
	events     chan store.Event
	stop       chan struct{}
	stopped    *atomic.Bool
	err        *atomic.Error
}

// enforce compilation error
var _ store.Feed = (*olricFeed)(nil)

func newOlricFeed(owner *olricMap, subscriber *goredis.PubSub) *olricFeed {
	return &olricFeed{
		owner:      owner,
		subscriber: subscriber,
		events:     make(chan store.Event),
		stop:       make(chan struct{}),
		stopped:    atomic.NewBool(false),
		err:        atomic.NewError(nil),
	}
}

// Events returns the channel change events arrive on.
func (f *olricFeed) Events() <-chan store.Event {
	return f.events
}

// Err returns the abnormal-termination cause, nil after an orderly Close.
func (f *olricFeed) Err() error {
	return f.err.Load()
}

// Close terminates the feed and releases its subscription.
func (f *olricFeed) Close() error {
	f.terminate(nil)
	return nil
}

func (f *olricFeed) terminate(err error) {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}
	f.err.Store(err)
	f.owner.unsubscribe(f)
	close(f.stop)
	_ = f.subscriber.Close()
}

func (f *olricFeed) pump() {
	defer close(f.events)
	for message := range f.subscriber.Channel() {
		event, err := decodeMapEvent([]byte(message.Payload))
		if err != nil {
			f.owner.logger.Warnf("failed to decode a change event for map=(%s): %v", f.owner.name, err)
			continue
		}
		select {
		case f.events <- event:
		case <-f.stop:
			return
		}
	}
	if f.stopped.Load() {
		return
	}
	f.terminate(fmt.Errorf("lost the watch on map=(%s)", f.owner.name))
}

func decodeMapEvent(payload []byte) (store.Event, error) {
	var wire mapEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return store.Event{}, err
	}
	switch wire.Kind {
	case eventKindPut:
		return store.Event{Kind: store.EntryPut, Key: wire.Key, Value: wire.Value}, nil
	case eventKindRemoved:
		return store.Event{Kind: store.EntryRemoved, Key: wire.Key}, nil
	default:
		return store.Event{}, fmt.Errorf("unknown change event kind=(%s)", wire.Kind)
	}
}
