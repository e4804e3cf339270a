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

// Package memory implements the store contract with in-process state.
//
// The driver is suitable for tests and single-process deployments: maps are
// mutex-protected, counters are atomics, locks are binary semaphores with
// bounded-wait acquisition. Change feeds fan out in mutation order. Nothing
// is shared across processes and nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

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

// WithLockLease auto-releases every acquired lock after the given duration,
// zero disables leasing. This models the store-side expiry real backends
// apply to abandoned locks.
func WithLockLease(lease time.Duration) Option {
	return OptionFunc(func(s *Store) {
		s.lockLease = lease
	})
}

// Store is the in-memory backing store.
type Store struct {
	mu        sync.Mutex
	maps      map[string]*memoryMap
	counters  map[string]*memoryCounter
	locks     map[string]*memoryLock
	closed    *atomic.Bool
	lockLease time.Duration
	logger    log.Logger
}

// enforce compilation error
var _ store.Store = (*Store)(nil)

// NewStore creates an in-memory backing store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		maps:     make(map[string]*memoryMap),
		counters: make(map[string]*memoryCounter),
		locks:    make(map[string]*memoryLock),
		closed:   atomic.NewBool(false),
		logger:   log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(s)
	}
	return s
}

// ID returns the driver identifier
func (s *Store) ID() string {
	return "memory"
}

// Map returns the named distributed map. Handles for the same name share the
// same underlying entries.
func (s *Store) Map(name string) (store.Map, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		m = newMemoryMap(name, s.closed)
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
		c = newMemoryCounter(s.closed)
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
		l = newMemoryLock(name, s.closed, s.lockLease, s.logger)
		s.locks[name] = l
	}
	return l, nil
}

// Disconnect simulates the loss of the store's notification channel: every
// open feed terminates abnormally with the given error. Map, counter and
// lock operations keep working. Mainly useful in tests exercising feed-loss
// handling.
func (s *Store) Disconnect(err error) {
	s.mu.Lock()
	maps := make([]*memoryMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		m.failFeeds(err)
	}
}

// Close releases every resource handle. Open feeds terminate orderly.
func (s *Store) Close(context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	maps := make([]*memoryMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		m.closeFeeds()
	}
	return nil
}
