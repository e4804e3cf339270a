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
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	lockPollInitial = 10 * time.Millisecond
	lockPollMax     = 250 * time.Millisecond
	releaseTimeout  = 5 * time.Second
)

// errLockHeld drives the acquisition retry loop; it never escapes Acquire.
var errLockHeld = errors.New("lock is held")

// releaseScript deletes the lock key only when the stored token proves the
// caller still holds it. An expired lease followed by another node's grab
// must not be stolen back.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// redisLock is a lease-protected NX key. The holder is whoever wrote its
// token; waiters poll with backoff until the key frees or the timeout
// elapses.
type redisLock struct {
	name   string
	key    string
	client *redis.Client
	closed *atomic.Bool
	lease  time.Duration
	logger log.Logger
}

// enforce compilation error
var _ store.Lock = (*redisLock)(nil)

func newRedisLock(name string, client *redis.Client, closed *atomic.Bool, lease time.Duration, logger log.Logger) *redisLock {
	return &redisLock{
		name:   name,
		key:    lockKeyPrefix + name,
		client: client,
		closed: closed,
		lease:  lease,
		logger: logger,
	}
}

// Acquire blocks until the lock is held or the timeout elapses.
func (l *redisLock) Acquire(ctx context.Context, timeout time.Duration) (store.Held, error) {
	if l.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	token := uuid.NewString()

	if timeout <= 0 {
		acquired, err := l.tryAcquire(ctx, token)
		switch {
		case err != nil:
			return nil, fmt.Errorf("failed to acquire lock=(%s): %w", l.name, err)
		case !acquired:
			return nil, store.ErrLockTimeout
		}
		return l.held(token), nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retrier := retry.NewRetrier(int(timeout/lockPollInitial)+1, lockPollInitial, lockPollMax)
	err := retrier.RunContext(acquireCtx, func(ctx context.Context) error {
		acquired, err := l.tryAcquire(ctx, token)
		if err != nil {
			return retry.Stop(err)
		}
		if !acquired {
			return errLockHeld
		}
		return nil
	})
	switch {
	case err == nil:
		return l.held(token), nil
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

func (l *redisLock) tryAcquire(ctx context.Context, token string) (bool, error) {
	return l.client.SetNX(ctx, l.key, token, l.lease).Result()
}

func (l *redisLock) held(token string) *redisHeld {
	return &redisHeld{
		lock:     l,
		token:    token,
		released: atomic.NewBool(false),
	}
}

// redisHeld is one acquisition of a redisLock, identified by its token.
type redisHeld struct {
	lock     *redisLock
	token    string
	released *atomic.Bool
}

// enforce compilation error
var _ store.Held = (*redisHeld)(nil)

// Release unlocks best-effort. Releasing twice is a no-op; failures are
// logged and never surface.
func (h *redisHeld) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	released, err := releaseScript.Run(ctx, h.lock.client, []string{h.lock.key}, h.token).Int()
	switch {
	case err != nil:
		h.lock.logger.Warnf("failed to release lock=(%s): %v", h.lock.name, err)
	case released == 0:
		h.lock.logger.Warnf("lock=(%s) changed hands before release", h.lock.name)
	}
}
