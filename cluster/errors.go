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

import "errors"

var (
	// ErrReservedName is returned when a generic map is requested under the
	// reserved membership map name
	ErrReservedName = errors.New("map name is reserved for cluster membership")
	// ErrListenerAlreadySet is returned when a node listener is already registered
	ErrListenerAlreadySet = errors.New("node listener is already registered")
	// ErrNilListener is returned when a nil node listener is registered
	ErrNilListener = errors.New("node listener is nil")
	// ErrAlreadyActive is returned when an active node attempts to join
	ErrAlreadyActive = errors.New("node is already active")
	// ErrAlreadyInactive is returned when an inactive node attempts to leave
	ErrAlreadyInactive = errors.New("node is already inactive")
	// ErrNilStore is returned when the manager is created without a backing store
	ErrNilStore = errors.New("backing store is nil")
	// ErrNilRuntime is returned when the manager is initialized without a runtime
	ErrNilRuntime = errors.New("host runtime is nil")
	// ErrNotInitialized is returned when the manager is used before Init
	ErrNotInitialized = errors.New("cluster manager is not initialized")
	// ErrManagerNotStarted is returned when the manager is used before Start
	ErrManagerNotStarted = errors.New("cluster manager is not started")
)
