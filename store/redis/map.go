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

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
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

// redisMap keeps entries in a hash and announces every mutation on the map's
// pub/sub channel once the write landed. The server serializes writers, so
// feeds observe one total order per map.
type redisMap struct {
	name      string
	dataKey   string
	eventsKey string
	mu        sync.RWMutex
	feeds     map[*redisFeed]struct{}
	client    *redis.Client
	closed    *atomic.Bool
	logger    log.Logger
}

// enforce compilation error
var _ store.Map = (*redisMap)(nil)

func newRedisMap(name string, client *redis.Client, closed *atomic.Bool, logger log.Logger) *redisMap {
	return &redisMap{
		name:      name,
		dataKey:   mapKeyPrefix + name,
		eventsKey: eventsKeyPrefix + name,
		feeds:     make(map[*redisFeed]struct{}),
		client:    client,
		closed:    closed,
		logger:    logger,
	}
}

// Get returns the value stored under the given key.
func (m *redisMap) Get(ctx context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	value, err := m.client.HGet(ctx, m.dataKey, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, store.ErrKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read key=(%s) from map=(%s): %w", key, m.name, err)
	default:
		return value, nil
	}
}

// Put stores the given value under the given key. The change event is
// published after the write; a lost publish leaves the data intact and is
// repaired by the next resync of whoever watches.
func (m *redisMap) Put(ctx context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	if err := m.client.HSet(ctx, m.dataKey, key, value).Err(); err != nil {
		return fmt.Errorf("failed to write key=(%s) to map=(%s): %w", key, m.name, err)
	}
	m.announce(ctx, mapEvent{Kind: eventKindPut, Key: key, Value: value})
	return nil
}

// Remove deletes the given key. Removing an absent key changes nothing and
// publishes nothing.
func (m *redisMap) Remove(ctx context.Context, key string) error {
	if m.closed.Load() {
		return store.ErrStoreClosed
	}
	removed, err := m.client.HDel(ctx, m.dataKey, key).Result()
	if err != nil {
		return fmt.Errorf("failed to remove key=(%s) from map=(%s): %w", key, m.name, err)
	}
	if removed > 0 {
		m.announce(ctx, mapEvent{Kind: eventKindRemoved, Key: key})
	}
	return nil
}

// Entries returns a snapshot of all key-value pairs in the map.
func (m *redisMap) Entries(ctx context.Context) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	raw, err := m.client.HGetAll(ctx, m.dataKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of map=(%s): %w", m.name, err)
	}
	entries := make(map[string][]byte, len(raw))
	for key, value := range raw {
		entries[key] = []byte(value)
	}
	return entries, nil
}

// Keys returns a snapshot of all keys in the map.
func (m *redisMap) Keys(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	keys, err := m.client.HKeys(ctx, m.dataKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of map=(%s): %w", m.name, err)
	}
	return keys, nil
}

// Size returns the number of entries in the map.
func (m *redisMap) Size(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	size, err := m.client.HLen(ctx, m.dataKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to size map=(%s): %w", m.name, err)
	}
	return int(size), nil
}

// Watch opens a change feed over the map. The subscription is confirmed
// before the feed is returned, so no event published after Watch returns is
// missed.
func (m *redisMap) Watch(ctx context.Context) (store.Feed, error) {
	if m.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	pubsub := m.client.Subscribe(ctx, m.eventsKey)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to watch map=(%s): %w", m.name, err)
	}
	feed := newRedisFeed(m, pubsub)
	m.mu.Lock()
	m.feeds[feed] = struct{}{}
	m.mu.Unlock()
	go feed.pump(ctx)
	return feed, nil
}

// announce publishes the event on the map's channel. Publish failures are
// logged and swallowed: the write already landed.
func (m *redisMap) announce(ctx context.Context, event mapEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Warnf("failed to encode a change event for map=(%s): %v", m.name, err)
		return
	}
	if err := m.client.Publish(ctx, m.eventsKey, payload).Err(); err != nil {
		m.logger.Warnf("failed to publish a change event for map=(%s): %v", m.name, err)
	}
}

func (m *redisMap) unsubscribe(feed *redisFeed) {
	m.mu.Lock()
	delete(m.feeds, feed)
	m.mu.Unlock()
}

func (m *redisMap) closeFeeds() {
	m.mu.RLock()
	feeds := make([]*redisFeed, 0, len(m.feeds))
	for feed := range m.feeds {
		feeds = append(feeds, feed)
	}
	m.mu.RUnlock()
	for _, feed := range feeds {
		_ = feed.Close()
	}
}

// redisFeed forwards one subscription's messages to the subscriber channel.
// A receive error while the feed is still open terminates it abnormally; the
// same error after Close is the subscription tearing down and stays silent.
type redisFeed struct {
	owner   *redisMap
	pubsub  *redis.PubSub
	events  chan store.Event
	stop    chan struct{}
	stopped *atomic.Bool
	err     *atomic.Error
}

// enforce compilation error
var _ store.Feed = (*redisFeed)(nil)

func newRedisFeed(owner *redisMap, pubsub *redis.PubSub) *redisFeed {
	return &redisFeed{
		owner:   owner,
		pubsub:  pubsub,
		events:  make(chan store.Event),
		stop:    make(chan struct{}),
		stopped: atomic.NewBool(false),
		err:     atomic.NewError(nil),
	}
}

// Events returns the channel change events arrive on.
func (f *redisFeed) Events() <-chan store.Event {
	return f.events
}

// Err returns the abnormal-termination cause, nil after an orderly Close.
func (f *redisFeed) Err() error {
	return f.err.Load()
}

// Close terminates the feed and releases its subscription.
func (f *redisFeed) Close() error {
	f.terminate(nil)
	return nil
}

func (f *redisFeed) terminate(err error) {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}
	f.err.Store(err)
	f.owner.unsubscribe(f)
	close(f.stop)
	_ = f.pubsub.Close()
}

func (f *redisFeed) pump(ctx context.Context) {
	defer close(f.events)
	for {
		message, err := f.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if f.stopped.Load() {
				return
			}
			f.terminate(fmt.Errorf("lost the watch on map=(%s): %w", f.owner.name, err))
			return
		}
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
