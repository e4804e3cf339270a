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

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/store"
)

// compareAndSetScript swaps the counter to ARGV[2] when its current value
// equals ARGV[1]. A missing key reads as zero.
var compareAndSetScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then
	current = '0'
end
if current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// redisCounter drives a plain string key with the INCR command family, which
// the server applies atomically.
type redisCounter struct {
	name   string
	key    string
	client *redis.Client
	closed *atomic.Bool
}

// enforce compilation error
var _ store.Counter = (*redisCounter)(nil)

func newRedisCounter(name string, client *redis.Client, closed *atomic.Bool) *redisCounter {
	return &redisCounter{
		name:   name,
		key:    counterKeyPrefix + name,
		client: client,
		closed: closed,
	}
}

// Get returns the current value. A missing key reads as zero.
func (c *redisCounter) Get(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	value, err := c.client.Get(ctx, c.key).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to read counter=(%s): %w", c.name, err)
	default:
		return value, nil
	}
}

// IncrementAndGet adds one and returns the updated value.
func (c *redisCounter) IncrementAndGet(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	value, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter=(%s): %w", c.name, err)
	}
	return value, nil
}

// GetAndIncrement adds one and returns the previous value.
func (c *redisCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	value, err := c.IncrementAndGet(ctx)
	if err != nil {
		return 0, err
	}
	return value - 1, nil
}

// DecrementAndGet subtracts one and returns the updated value.
func (c *redisCounter) DecrementAndGet(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	value, err := c.client.Decr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement counter=(%s): %w", c.name, err)
	}
	return value, nil
}

// AddAndGet adds the given delta and returns the updated value.
func (c *redisCounter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	if c.closed.Load() {
		return 0, store.ErrStoreClosed
	}
	value, err := c.client.IncrBy(ctx, c.key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add to counter=(%s): %w", c.name, err)
	}
	return value, nil
}

// GetAndAdd adds the given delta and returns the previous value.
func (c *redisCounter) GetAndAdd(ctx context.Context, delta int64) (int64, error) {
	value, err := c.AddAndGet(ctx, delta)
	if err != nil {
		return 0, err
	}
	return value - delta, nil
}

// CompareAndSet atomically replaces the value with update when the current
// value equals expected.
func (c *redisCounter) CompareAndSet(ctx context.Context, expected, update int64) (bool, error) {
	if c.closed.Load() {
		return false, store.ErrStoreClosed
	}
	swapped, err := compareAndSetScript.Run(ctx, c.client, []string{c.key}, expected, update).Int()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-set counter=(%s): %w", c.name, err)
	}
	return swapped == 1, nil
}
