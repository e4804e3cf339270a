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

// Package etcd implements the store contract on an etcd cluster.
//
// Every resource lives under one shared namespace prefix. Maps keep one
// key per entry and stream changes straight off etcd watches. Counters are
// transaction-guarded numeric keys. Locks ride leased concurrency sessions,
// so a crashed holder frees them once its lease expires.
package etcd

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	storeNamespace   = "herd/"
	mapKeyPrefix     = "maps/"
	counterKeyPrefix = "counters/"
	lockKeyPrefix    = "locks/"

	dialTimeout         = 5 * time.Second
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

// WithLockLease overrides the session lease backing acquired locks. The
// lease is granted in whole seconds and never under one second.
func WithLockLease(lease time.Duration) Option {
	return OptionFunc(func(s *Store) {
		s.lockLease = lease
	})
}

// Store is the etcd backing store.
type Store struct {
	mu       sync.Mutex
	maps     map[string]*etcdMap
	counters map[string]*etcdCounter
	locks    map[string]*etcdLock

	client          *clientv3.Client
	namespaceClient *clientv3.Client
	kv              clientv3.KV
	watcher         clientv3.Watcher
	closed          *atomic.Bool
	lockLease       time.Duration
	logger          log.Logger
}

// enforce compilation error
var _ store.Store = (*Store)(nil)

// NewStore connects to the etcd cluster at the given endpoints and returns
// a backing store over it. Connection liveness is verified against the
// first endpoint, retried with backoff. The context bounds the connection
// handshake only.
func NewStore(ctx context.Context, endpoints []string, opts ...Option) (*Store, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	retrier := retry.NewRetrier(connectAttempts, connectInitialDelay, connectMaxDelay)
	if err := retrier.RunContext(ctx, func(ctx context.Context) error {
		statusCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		_, err := client.Status(statusCtx, endpoints[0])
		return err
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	s := &Store{
		maps:      make(map[string]*etcdMap),
		counters:  make(map[string]*etcdCounter),
		locks:     make(map[string]*etcdLock),
		client:    client,
		kv:        namespace.NewKV(client.KV, storeNamespace),
		watcher:   namespace.NewWatcher(client.Watcher, storeNamespace),
		closed:    atomic.NewBool(false),
		lockLease: DefaultLockLease,
		logger:    log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(s)
	}

	// lock sessions run over a client wired to the namespaced views, so
	// their leases and mutex keys stay inside the store namespace
	namespaceClient := clientv3.NewCtxClient(client.Ctx())
	namespaceClient.KV = s.kv
	namespaceClient.Lease = namespace.NewLease(client.Lease, storeNamespace)
	namespaceClient.Watcher = s.watcher
	s.namespaceClient = namespaceClient
	return s, nil
}

// ID returns the driver identifier
func (s *Store) ID() string {
	return "etcd"
}

// Map returns the named distributed map. Handles for the same name share
// the same key prefix on the cluster.
func (s *Store) Map(name string) (store.Map, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		m = newEtcdMap(name, s.kv, s.watcher, s.closed)
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
		c = newEtcdCounter(name, s.kv, s.closed)
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
		l = newEtcdLock(name, s.namespaceClient, s.closed, s.lockLease, s.logger)
		s.locks[name] = l
	}
	return l, nil
}

// Close terminates every open feed orderly and releases the client. The
// server-side state is left untouched; locks still held stop refreshing
// their leases and expire server-side.
func (s *Store) Close(context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	maps := make([]*etcdMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		m.closeFeeds()
	}
	return s.client.Close()
}

// nameKey encodes a resource name as a single path segment, so a '/' in a
// name cannot escape its prefix.
func nameKey(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}
