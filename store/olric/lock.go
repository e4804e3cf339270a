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
	"errors"
	"fmt"
	"time"

	"github.com/tochemey/olric"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

// olricLock is a key in the shared locks DMap guarded by the DMap lock
// primitive. The lease auto-releases locks of crashed holders.
type olricLock struct {
	name   string
	dmap   olric.DMap
	closed *atomic.Bool
	lease  time.Duration
	logger log.Logger
}

// enforce compilation error
var _ store.Lock = (*olricLock)(nil)

func newOlricLock(name string, dmap olric.DMap, closed *atomic.Bool, lease time.Duration, logger log.Logger) *olricLock {
	return &olricLock{
		name:   name,
		dmap:   dmap,
		closed: closed,
		lease:  lease,
		logger: logger,
	}
}

// Acquire blocks until the lock is held or the timeout elapses.
func (l *olricLock) Acquire(ctx context.Context, timeout time.Duration) (store.Held, error) {
	if l.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	guard, err := l.dmap.LockWithTimeout(ctx, l.name, l.lease, timeout)
	switch {
	case errors.Is(err, olric.ErrLockNotAcquired):
		return nil, store.ErrLockTimeout
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, fmt.Errorf("failed to acquire lock=(%s): %w", l.name, err)
	}
	return &olricHeld{name: l.name, guard: guard, logger: l.logger}, nil
}

// olricHeld is one acquisition of the lock.
type olricHeld struct {
	name   string
	guard  olric.LockContext
	logger log.Logger
}

// enforce compilation error
var _ store.Held = (*olricHeld)(nil)

// Release unlocks best-effort. Unlocking a lock the lease already freed, or
// one now held by someone else, is logged and swallowed.
func (h *olricHeld) Release() {
	if err := h.guard.Unlock(context.Background()); err != nil {
		if errors.Is(err, olric.ErrNoSuchLock) {
			h.logger.Debugf("lock=(%s) already released by its lease", h.name)
			return
		}
		h.logger.Warnf("failed to release lock=(%s): %v", h.name, err)
	}
}
