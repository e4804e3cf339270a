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

// Package redis implements the store contract on a Redis server.
//
// Maps live in hashes, change feeds ride pub/sub channels, counters are
// plain string keys driven by INCR-family commands and locks are NX keys
// with a lease. Every mutation publishes its change event after the write
// succeeds, so feeds observe mutations from all processes sharing the
// server.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	mapKeyPrefix     = "herd:map:"
	eventsKeyPrefix  = "herd:events:"
	counterKeyPrefix = "herd:counter:"
	lockKeyPrefix    = "herd:lock:"

	connectAttempts     = 5
	connectInitialDelay = 100 * time.Millisecond
	connectMaxDelay     = time.Second
)

// DefaultLockLease bounds how long a crashed holder can keep a lock.
const DefaultLockLease = 30 * time.Second

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(s *Store)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(s *Store)

// Apply applies the store's option
func (f OptionFunc) Apply(s *Store) {
	f(s)
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(s *Store) {
		s.logger = logger
	})
}

// WithLockLease overrides the lease the server applies to acquired locks.
func WithLockLease(lease time.Duration) Option {
	return OptionFunc(func(s *Store) {
		s.lockLease = lease
	})
}

// Store is the Redis backing store.
type Store struct {
	mu        sync.Mutex
	maps      map[string]*redisMap
	counters  map[string]*redisCounter
	locks     map[string]*redisLock
	client    *redis.Client
	closed    *atomic.Bool
	lockLease time.Duration
	logger    log.Logger
}

// enforce compilation error
var _ store.Store = (*Store)(nil)

// NewStore connects to the Redis server at the given address and returns a
// backing store over it. The address is either a host:port pair or a
// redis:// URL. Connection liveness is verified with a PING, retried with
// backoff.
func NewStore(ctx context.Context, address string, opts ...Option) (*Store, error) {
	options, err := parseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the redis address: %w", err)
	}

	s := &Store{
		maps:      make(map[string]*redisMap),
		counters:  make(map[string]*redisCounter),
		locks:     make(map[string]*redisLock),
		client:    redis.NewClient(options),
		closed:    atomic.NewBool(false),
		lockLease: DefaultLockLease,
		logger:    log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(s)
	}

	retrier := retry.NewRetrier(connectAttempts, connectInitialDelay, connectMaxDelay)
	if err := retrier.RunContext(ctx, func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	}); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return s, nil
}

func parseAddress(address string) (*redis.Options, error) {
	if strings.Contains(address, "://") {
		return redis.ParseURL(address)
	}
	return &redis.Options{Addr: address}, nil
}

// ID returns the driver identifier
func (s *Store) ID() string {
	return "redis"
}

// Map returns the named distributed map. Handles for the same name share the
// same hash on the server.
func (s *Store) Map(name string) (store.Map, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		m = newRedisMap(name, s.client, s.closed, s.logger)
		s.maps[name] = m
	}
	return m, nil
}

// Counter returns the named distributed counter.
func (s *Store) Counter(name string) (store.Counter, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = newRedisCounter(name, s.client, s.closed)
		s.counters[name] = c
	}
	return c, nil
}

// Lock returns the named distributed lock.
func (s *Store) Lock(name string) (store.Lock, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = newRedisLock(name, s.client, s.closed, s.lockLease, s.logger)
		s.locks[name] = l
	}
	return l, nil
}

// Close terminates every open feed orderly and releases the client. The
// server-side state is left untouched.
func (s *Store) Close(context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	maps := make([]*redisMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		m.closeFeeds()
	}
	return s.client.Close()
}
