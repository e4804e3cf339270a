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
	"time"

	"github.com/herd-io/herd/log"
)

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(m *manager)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(m *manager)

// Apply applies the manager's option
func (f OptionFunc) Apply(m *manager) {
	f(m)
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(m *manager) {
		m.logger = logger
	})
}

// WithNodeHost sets the host this node advertises in its membership entry.
// When unset or 0.0.0.0 a suitable interface address is resolved at join time.
func WithNodeHost(host string) Option {
	return OptionFunc(func(m *manager) {
		m.nodeHost = host
	})
}

// WithNodePort sets the port this node advertises in its membership entry.
func WithNodePort(port int) Option {
	return OptionFunc(func(m *manager) {
		m.nodePort = port
	})
}

// WithNodeMeta sets arbitrary metadata published with the membership entry.
func WithNodeMeta(meta map[string]string) Option {
	return OptionFunc(func(m *manager) {
		m.nodeMeta = meta
	})
}

// WithResyncInterval sets how often the membership view is reconciled against
// a full snapshot of the membership map. A zero interval disables the resync.
func WithResyncInterval(interval time.Duration) Option {
	return OptionFunc(func(m *manager) {
		m.resyncInterval = interval
	})
}

// WithShutdownTimeout sets the manager shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return OptionFunc(func(m *manager) {
		m.shutdownTimeout = timeout
	})
}
