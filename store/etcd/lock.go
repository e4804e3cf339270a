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
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const releaseTimeout = 5 * time.Second

// etcdLock is a mutex prefix guarded by per-acquisition sessions. The lock
// stays held for as long as the holder keeps its session lease alive; a
// holder that stops refreshing frees the lock when the lease expires.
type etcdLock struct {
	name   string
	prefix string
	client *clientv3.Client
	lease  time.Duration
	closed *atomic.Bool
	logger log.Logger
}

// enforce compilation error
var _ store.Lock = (*etcdLock)(nil)

func newEtcdLock(name string, client *clientv3.Client, closed *atomic.Bool, lease time.Duration, logger log.Logger) *etcdLock {
	return &etcdLock{
		name:   name,
		prefix: lockKeyPrefix + nameKey(name),
		client: client,
		lease:  lease,
		closed: closed,
		logger: logger,
	}
}

// Acquire blocks until the lock is held or the timeout elapses. A timeout
// of zero or less makes a single immediate attempt.
func (l *etcdLock) Acquire(ctx context.Context, timeout time.Duration) (store.Held, error) {
	if l.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	// one session per acquisition; its lease dies with this holder alone
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.leaseSeconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to open a session for lock=(%s): %w", l.name, err)
	}
	mutex := concurrency.NewMutex(session, l.prefix)

	if timeout <= 0 {
		if err := mutex.TryLock(ctx); err != nil {
			l.discard(session)
			switch {
			case errors.Is(err, concurrency.ErrLocked):
				return nil, store.ErrLockTimeout
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				return nil, fmt.Errorf("failed to acquire lock=(%s): %w", l.name, err)
			}
		}
		return l.held(session, mutex), nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := mutex.Lock(acquireCtx); err != nil {
		l.discard(session)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case acquireCtx.Err() != nil:
			return nil, store.ErrLockTimeout
		default:
			return nil, fmt.Errorf("failed to acquire lock=(%s): %w", l.name, err)
		}
	}
	return l.held(session, mutex), nil
}

// leaseSeconds converts the lease to the whole seconds sessions are granted
// in, never under one.
func (l *etcdLock) leaseSeconds() int {
	seconds := int(l.lease / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// discard drops the session of a failed acquisition, revoking its lease and
// whatever waiter key it left behind.
func (l *etcdLock) discard(session *concurrency.Session) {
	if err := session.Close(); err != nil {
		l.logger.Warnf("failed to close the session of lock=(%s): %v", l.name, err)
	}
}

func (l *etcdLock) held(session *concurrency.Session, mutex *concurrency.Mutex) *etcdHeld {
	return &etcdHeld{
		lock:     l,
		session:  session,
		mutex:    mutex,
		released: atomic.NewBool(false),
	}
}

// etcdHeld is one acquisition of an etcdLock, fenced by its session: the
// mutex key carries the session's lease and cannot outlive it.
type etcdHeld struct {
	lock     *etcdLock
	session  *concurrency.Session
	mutex    *concurrency.Mutex
	released *atomic.Bool
}

// enforce compilation error
var _ store.Held = (*etcdHeld)(nil)

// Release unlocks best-effort and drops the session lease.
func (h *etcdHeld) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := h.mutex.Unlock(ctx); err != nil {
		h.lock.logger.Warnf("failed to release lock=(%s): %v", h.lock.name, err)
	}
	if err := h.session.Close(); err != nil {
		h.lock.logger.Warnf("failed to close the session of lock=(%s): %v", h.lock.name, err)
	}
}
