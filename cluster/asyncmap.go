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

package cluster

import (
	"context"
	"errors"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/store"
)

// AsyncMap is a distributed map whose operations complete asynchronously on
// the caller's execution context. Getting an absent key succeeds with a nil
// value rather than failing.
type AsyncMap interface {
	// Name returns the map name.
	Name() string
	// Get resolves the value under key, or nil when absent.
	Get(key string, handler async.Handler[[]byte])
	// Put stores value under key.
	Put(key string, value []byte, handler async.Handler[async.Unit])
	// Remove deletes key. Removing an absent key succeeds.
	Remove(key string, handler async.Handler[async.Unit])
	// Size resolves the number of entries.
	Size(handler async.Handler[int])
	// Keys resolves all keys.
	Keys(handler async.Handler[[]string])
	// Entries resolves a snapshot of the whole map.
	Entries(handler async.Handler[map[string][]byte])
}

type asyncMap struct {
	name    string
	backing store.Map
	runtime async.Runtime
	ctx     context.Context
}

// enforce compilation error
var _ AsyncMap = (*asyncMap)(nil)

func newAsyncMap(name string, backing store.Map, runtime async.Runtime, ctx context.Context) *asyncMap {
	return &asyncMap{
		name:    name,
		backing: backing,
		runtime: runtime,
		ctx:     ctx,
	}
}

func (m *asyncMap) Name() string {
	return m.name
}

func (m *asyncMap) Get(key string, handler async.Handler[[]byte]) {
	async.Dispatch(m.runtime, func() ([]byte, error) {
		value, err := m.backing.Get(m.ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return value, err
	}, handler)
}

func (m *asyncMap) Put(key string, value []byte, handler async.Handler[async.Unit]) {
	async.Dispatch(m.runtime, func() (async.Unit, error) {
		return async.Unit{}, m.backing.Put(m.ctx, key, value)
	}, handler)
}

func (m *asyncMap) Remove(key string, handler async.Handler[async.Unit]) {
	async.Dispatch(m.runtime, func() (async.Unit, error) {
		return async.Unit{}, m.backing.Remove(m.ctx, key)
	}, handler)
}

func (m *asyncMap) Size(handler async.Handler[int]) {
	async.Dispatch(m.runtime, func() (int, error) {
		return m.backing.Size(m.ctx)
	}, handler)
}

func (m *asyncMap) Keys(handler async.Handler[[]string]) {
	async.Dispatch(m.runtime, func() ([]string, error) {
		return m.backing.Keys(m.ctx)
	}, handler)
}

func (m *asyncMap) Entries(handler async.Handler[map[string][]byte]) {
	async.Dispatch(m.runtime, func() (map[string][]byte, error) {
		return m.backing.Entries(m.ctx)
	}, handler)
}
