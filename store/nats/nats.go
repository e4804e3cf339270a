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

// Package nats implements the store contract on NATS JetStream KeyValue
// buckets.
//
// Each map gets its own bucket so it can be watched in isolation; counters
// and locks share one bucket each, keyed per resource. Counters are driven
// by revision-checked read-modify-write loops and locks by create-wins keys
// in a TTL bucket, the TTL standing in for the lease.
package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
	"github.com/zeebo/xxh3"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	mapBucketPrefix = "herd-map-"
	countersBucket  = "herd-counters"
	locksBucket     = "herd-locks"

	connectTimeout      = 5 * time.Second
	connectAttempts     = 5
	connectInitialDelay = 100 * time.Millisecond
	connectMaxDelay     = time.Second
)

// DefaultLockLease bounds how long a crashed holder can keep a lock.
const DefaultLockLease = 30 * time.Second

// bucketNameSanitizer matches every character a bucket name cannot carry.
var bucketNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

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

// WithLockLease overrides the TTL of the locks bucket.
func WithLockLease(lease time.Duration) Option {
	return OptionFunc(func(s *Store) {
		s.lockLease = lease
	})
}

// Store is the NATS JetStream backing store.
type Store struct {
	mu        sync.Mutex
	maps      map[string]*natsMap
	counters  map[string]*natsCounter
	locks     map[string]*natsLock
	conn      *nats.Conn
	js        nats.JetStreamContext
	counterKV nats.KeyValue
	lockKV    nats.KeyValue
	closed    *atomic.Bool
	lockLease time.Duration
	logger    log.Logger
}

// enforce compilation error
var _ store.Store = (*Store)(nil)

// NewStore connects to the NATS server at the given URL and returns a
// backing store over its JetStream engine. Buckets are created lazily, the
// first handle for a resource winning the race against other processes.
func NewStore(ctx context.Context, url string, opts ...Option) (*Store, error) {
	s := &Store{
		maps:      make(map[string]*natsMap),
		counters:  make(map[string]*natsCounter),
		locks:     make(map[string]*natsLock),
		closed:    atomic.NewBool(false),
		lockLease: DefaultLockLease,
		logger:    log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(s)
	}

	retrier := retry.NewRetrier(connectAttempts, connectInitialDelay, connectMaxDelay)
	if err := retrier.RunContext(ctx, func(context.Context) error {
		conn, err := nats.Connect(url, nats.Timeout(connectTimeout))
		if err != nil {
			return err
		}
		s.conn = conn
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := s.conn.JetStream()
	if err != nil {
		s.conn.Close()
		return nil, fmt.Errorf("failed to open the jetstream engine: %w", err)
	}
	s.js = js
	return s, nil
}

// ID returns the driver identifier
func (s *Store) ID() string {
	return "nats"
}

// Map returns the named distributed map.
func (s *Store) Map(name string) (store.Map, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		kv, err := s.ensureBucket(&nats.KeyValueConfig{Bucket: bucketName(mapBucketPrefix, name)})
		if err != nil {
			return nil, fmt.Errorf("failed to open the bucket of map=(%s): %w", name, err)
		}
		m = newNatsMap(name, kv, s.closed)
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
		if s.counterKV == nil {
			kv, err := s.ensureBucket(&nats.KeyValueConfig{Bucket: countersBucket})
			if err != nil {
				return nil, fmt.Errorf("failed to open the counters bucket: %w", err)
			}
			s.counterKV = kv
		}
		c = newNatsCounter(name, s.counterKV, s.closed)
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
		if s.lockKV == nil {
			kv, err := s.ensureBucket(&nats.KeyValueConfig{Bucket: locksBucket, TTL: s.lockLease})
			if err != nil {
				return nil, fmt.Errorf("failed to open the locks bucket: %w", err)
			}
			s.lockKV = kv
		}
		l = newNatsLock(name, s.lockKV, s.closed, s.logger)
		s.locks[name] = l
	}
	return l, nil
}

// Close terminates every open feed orderly and releases the connection. The
// server-side state is left untouched.
func (s *Store) Close(context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	maps := make([]*natsMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		m.closeFeeds()
	}
	s.conn.Close()
	return nil
}

// ensureBucket opens the bucket, creating it when missing. Another process
// may create it between the lookup and the create; the create loser falls
// back to the winner's bucket.
func (s *Store) ensureBucket(config *nats.KeyValueConfig) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(config.Bucket)
	if err == nil {
		return kv, nil
	}
	kv, err = s.js.CreateKeyValue(config)
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return s.js.KeyValue(config.Bucket)
		}
		return nil, err
	}
	return kv, nil
}

// bucketName maps a resource name onto a valid bucket name. Sanitizing can
// collide distinct names, so a sanitized name carries a fingerprint of the
// original.
func bucketName(prefix, name string) string {
	sanitized := bucketNameSanitizer.ReplaceAllString(name, "_")
	if sanitized == name && name != "" {
		return prefix + name
	}
	return fmt.Sprintf("%s%s-%x", prefix, sanitized, xxh3.HashString(name))
}

// keyName maps an application key onto a valid KV key. KV keys are limited
// to a safe charset; application keys are not, so the raw key rides in
// base64.
func keyName(key string) string {
	return "k" + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func parseKeyName(encoded string) (string, bool) {
	trimmed, ok := strings.CutPrefix(encoded, "k")
	if !ok {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// isRevisionConflict reports whether the error means another writer moved
// the key's revision first.
func isRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr != nil && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
