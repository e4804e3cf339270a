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

// Package store defines the backing-store contract herd coordinates over:
// named maps with change notification, atomic 64-bit counters and
// mutual-exclusion locks with bounded-wait acquisition.
//
// The store owns replication and consistency; per named resource the
// ordering callers observe is the store's ordering. Drivers live in the
// subpackages (memory, redis, nats, etcd, olric).
package store

import (
	"context"
	"time"
)

// Store hands out named shared resources. Handles for the same name address
// the same distributed resource from every node connected to the store.
type Store interface {
	// ID returns the driver identifier
	ID() string
	// Map returns the named distributed map.
	Map(name string) (Map, error)
	// Counter returns the named distributed counter.
	Counter(name string) (Counter, error)
	// Lock returns the named distributed lock.
	Lock(name string) (Lock, error)
	// Close releases the store client and every resource handle spawned
	// from it. Pending watches terminate.
	Close(ctx context.Context) error
}

// Map is a named distributed map of string keys to opaque values.
type Map interface {
	// Get returns the value stored under the given key. It returns
	// ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores the given value under the given key, overwriting any
	// previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Remove deletes the given key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Entries returns a snapshot of all key-value pairs in the map.
	Entries(ctx context.Context) (map[string][]byte, error)
	// Keys returns a snapshot of all keys in the map.
	Keys(ctx context.Context) ([]string, error)
	// Size returns the number of entries in the map.
	Size(ctx context.Context) (int, error)
	// Watch opens a change feed over the map. Events arrive in
	// store-observation order, without coalescing.
	Watch(ctx context.Context) (Feed, error)
}

// Feed streams change events for one map until closed.
type Feed interface {
	// Events returns the channel change events arrive on. The channel is
	// closed when the feed terminates, orderly or not.
	Events() <-chan Event
	// Err returns the abnormal-termination cause. It returns nil when the
	// feed was closed with Close; anything else means the feed was lost.
	Err() error
	// Close terminates the feed and releases its subscription.
	Close() error
}

// Counter is a named distributed 64-bit counter. A missing counter reads as
// zero. Overflow behavior is inherited from the store.
type Counter interface {
	// Get returns the current value.
	Get(ctx context.Context) (int64, error)
	// IncrementAndGet adds one and returns the updated value.
	IncrementAndGet(ctx context.Context) (int64, error)
	// GetAndIncrement adds one and returns the previous value.
	GetAndIncrement(ctx context.Context) (int64, error)
	// DecrementAndGet subtracts one and returns the updated value.
	DecrementAndGet(ctx context.Context) (int64, error)
	// AddAndGet adds the given delta and returns the updated value.
	AddAndGet(ctx context.Context, delta int64) (int64, error)
	// GetAndAdd adds the given delta and returns the previous value.
	GetAndAdd(ctx context.Context, delta int64) (int64, error)
	// CompareAndSet atomically replaces the value with update when the
	// current value equals expected. It reports whether the swap happened.
	CompareAndSet(ctx context.Context, expected, update int64) (bool, error)
}

// Lock is a named distributed mutual-exclusion lock.
type Lock interface {
	// Acquire blocks until the lock is held or the timeout elapses. A
	// timeout returns ErrLockTimeout, distinguishable from transport
	// failures. The context bounds the attempt independently.
	Acquire(ctx context.Context, timeout time.Duration) (Held, error)
}

// Held is an acquired lock.
type Held interface {
	// Release unlocks best-effort. Failures are logged by the driver and
	// never surface to the caller.
	Release()
}
