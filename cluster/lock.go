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
	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

// Lock is a held distributed lock. Mutual exclusion is enforced by the
// backing store, not by this handle; multiple handles for the same name are
// safe to create.
type Lock interface {
	// Name returns the lock name.
	Name() string
	// Release gives the lock up. It is fire-and-forget: releasing an expired
	// or already released lock never raises, failures are only logged.
	Release()
}

type lockHandle struct {
	name   string
	held   store.Held
	logger log.Logger
}

// enforce compilation error
var _ Lock = (*lockHandle)(nil)

func newLockHandle(name string, held store.Held, logger log.Logger) *lockHandle {
	return &lockHandle{
		name:   name,
		held:   held,
		logger: logger,
	}
}

func (l *lockHandle) Name() string {
	return l.name
}

func (l *lockHandle) Release() {
	l.held.Release()
	l.logger.Debugf("lock=(%s) released", l.name)
}
