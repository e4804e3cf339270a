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

package memory

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

// memoryLock is a binary semaphore with bounded-wait acquisition. Waiters
// queue on the semaphore channel; the runtime wakes them in roughly FIFO
// order.
type memoryLock struct {
	name   string
	sem    chan struct{}
	closed *atomic.Bool
	lease  time.Duration
	logger log.Logger
}

// enforce compilation error
var _ store.Lock = (*memoryLock)(nil)

func newMemoryLock(name string, closed *atomic.Bool, lease time.Duration, logger log.Logger) *memoryLock {
	return &memoryLock{
		name:   name,
		sem:    make(chan struct{}, 1),
		closed: closed,
		lease:  lease,
		logger: logger,
	}
}

// Acquire blocks until the lock is held or the timeout elapses.
func (l *memoryLock) Acquire(ctx context.Context, timeout time.Duration) (store.Held, error) {
	if l.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	if timeout <= 0 {
		select {
		case l.sem <- struct{}{}:
			return l.held(), nil
		default:
			return nil, store.ErrLockTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return l.held(), nil
	case <-timer.C:
		return nil, store.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memoryLock) held() *memoryHeld {
	held := &memoryHeld{
		lock:     l,
		released: atomic.NewBool(false),
	}
	if l.lease > 0 {
		held.leaseTimer = time.AfterFunc(l.lease, held.expire)
	}
	return held
}

// memoryHeld is one acquisition of a memoryLock.
type memoryHeld struct {
	lock       *memoryLock
	released   *atomic.Bool
	leaseTimer *time.Timer
}

// enforce compilation error
var _ store.Held = (*memoryHeld)(nil)

// Release unlocks. Releasing twice, or after the lease expired, is a no-op.
func (h *memoryHeld) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.leaseTimer != nil {
		h.leaseTimer.Stop()
	}
	<-h.lock.sem
}

func (h *memoryHeld) expire() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.lock.logger.Warnf("lock=(%s) lease expired, releasing", h.lock.name)
	<-h.lock.sem
}
