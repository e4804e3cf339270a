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

package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	lockPollInitial = 10 * time.Millisecond
	lockPollMax     = 250 * time.Millisecond
)

// errLockHeld drives the acquisition retry loop; it never escapes Acquire.
var errLockHeld = errors.New("lock is held")

// natsLock is a create-wins key in the locks bucket. The holder is whoever
// created the key; the bucket TTL frees locks of crashed holders.
type natsLock struct {
	name   string
	key    string
	kv     nats.KeyValue
	closed *atomic.Bool
	logger log.Logger
}

// enforce compilation error
var _ store.Lock = (*natsLock)(nil)

func newNatsLock(name string, kv nats.KeyValue, closed *atomic.Bool, logger log.Logger) *natsLock {
	return &natsLock{
		name:   name,
		key:    keyName(name),
		kv:     kv,
		closed: closed,
		logger: logger,
	}
}

// Acquire blocks until the lock is held or the timeout elapses.
func (l *natsLock) Acquire(ctx context.Context, timeout time.Duration) (store.Held, error) {
	if l.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	token := uuid.NewString()

	if timeout <= 0 {
		revision, acquired, err := l.tryAcquire(token)
		switch {
		case err != nil:
			return nil, fmt.Errorf("failed to acquire lock=(%s): %w", l.name, err)
		case !acquired:
			return nil, store.ErrLockTimeout
		}
		return l.held(token, revision), nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var revision uint64
	retrier := retry.NewRetrier(int(timeout/lockPollInitial)+1, lockPollInitial, lockPollMax)
	err := retrier.RunContext(acquireCtx, func(context.Context) error {
		rev, acquired, err := l.tryAcquire(token)
		if err != nil {
			return retry.Stop(err)
		}
		if !acquired {
			return errLockHeld
		}
		revision = rev
		return nil
	})
	switch {
	case err == nil:
		return l.held(token, revision), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errLockHeld):
		return nil, store.ErrLockTimeout
	case acquireCtx.Err() != nil:
		return nil, store.ErrLockTimeout
	default:
		return nil, fmt.Errorf("failed to acquire lock=(%s): %w", l.name, err)
	}
}

func (l *natsLock) tryAcquire(token string) (uint64, bool, error) {
	revision, err := l.kv.Create(l.key, []byte(token))
	switch {
	case err == nil:
		return revision, true, nil
	case errors.Is(err, nats.ErrKeyExists):
		return 0, false, nil
	default:
		return 0, false, err
	}
}

func (l *natsLock) held(token string, revision uint64) *natsHeld {
	return &natsHeld{
		lock:     l,
		token:    token,
		revision: revision,
		released: atomic.NewBool(false),
	}
}

// natsHeld is one acquisition of a natsLock, fenced by the revision the
// create landed at.
type natsHeld struct {
	lock     *natsLock
	token    string
	revision uint64
	released *atomic.Bool
}

// enforce compilation error
var _ store.Held = (*natsHeld)(nil)

// Release unlocks best-effort. The delete is fenced on the acquisition
// revision so a lock that expired and changed hands is left alone.
func (h *natsHeld) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if err := h.lock.kv.Delete(h.lock.key, nats.LastRevision(h.revision)); err != nil {
		h.lock.logger.Warnf("failed to release lock=(%s): %v", h.lock.name, err)
	}
}
