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

// Package cluster coordinates a set of cooperating nodes over a shared backing
// store. The store is the source of truth for cluster membership, shared maps,
// distributed locks and distributed counters; this package bridges the store's
// blocking operations onto the host runtime's execution contexts so that
// application code never blocks a cooperative context and every completion is
// delivered through one.
package cluster

import (
	"context"
	"time"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/store"
)

// MembershipMapName is the reserved map name under which the cluster tracks
// its membership. Generic map access to this name is rejected; the live
// membership view is served instead through SyncMap.
const MembershipMapName = "__herd.membership"

const (
	// DefaultResyncInterval is how often the membership view is reconciled
	// against a full snapshot of the membership map.
	DefaultResyncInterval = time.Minute
	// DefaultShutdownTimeout bounds the manager teardown.
	DefaultShutdownTimeout = 10 * time.Second
)

// NodeListener receives cluster membership transitions. Invocations are
// posted, in observation order, onto a single execution context owned by the
// manager, so implementations need no synchronization of their own.
type NodeListener interface {
	// NodeAdded is invoked when a node joins the cluster.
	NodeAdded(nodeID string, info NodeInfo)
	// NodeLeft is invoked when a node leaves the cluster.
	NodeLeft(nodeID string)
	// MembershipLost is invoked at most once, when the membership change feed
	// fails. It signals degraded membership visibility, not a node departure.
	MembershipLost(err error)
}

// Manager is the coordination contract consumed by the host runtime.
//
// A manager is wired with Init, brought up with Start and torn down with
// Stop. Operations taking a handler never block and never run the handler
// inline on the calling goroutine; the handler fires exactly once on an
// execution context obtained from the host runtime.
type Manager interface {
	// Init wires the host runtime. It must be called before Start.
	Init(runtime async.Runtime) error
	// Start opens the membership map, warms the local membership view and
	// begins watching for changes. Starting a started manager is a no-op.
	Start(ctx context.Context) error
	// Stop tears the manager down. A node still active at stop time is
	// removed from the membership map on a best-effort basis. Stopping a
	// stopped manager is a no-op.
	Stop(ctx context.Context) error

	// Join activates this node: it generates a fresh node id and writes the
	// node's entry into the membership map. Joining an active node fails
	// with ErrAlreadyActive and leaves all state untouched.
	Join(handler async.Handler[async.Unit])
	// Leave deactivates this node and removes its membership entry. Leaving
	// an inactive node fails with ErrAlreadyInactive.
	Leave(handler async.Handler[async.Unit])
	// IsActive reports whether this node has joined and not yet left.
	IsActive() bool
	// NodeID returns the identity generated by the most recent Join, or the
	// empty string when the node has never joined.
	NodeID() string
	// ListNodeIDs returns the node ids currently present in the membership
	// view. An empty result is valid.
	ListNodeIDs() []string
	// RegisterNodeListener attaches the membership listener. At most one
	// listener can be registered per manager for its entire lifetime.
	RegisterNodeListener(listener NodeListener) error

	// AsyncMap resolves the named distributed map. Requests for the same
	// name converge on one handle. The reserved membership map name is
	// rejected with ErrReservedName.
	AsyncMap(name string, handler async.Handler[AsyncMap])
	// SyncMap resolves the named distributed map as a synchronous surface.
	// The reserved membership map name returns the live membership view.
	SyncMap(name string) (store.Map, error)
	// LockWithTimeout acquires the named distributed lock, waiting at most
	// timeout. Acquisition timeouts surface as store.ErrLockTimeout,
	// distinguishable from transport failures.
	LockWithTimeout(name string, timeout time.Duration, handler async.Handler[Lock])
	// Counter resolves the named distributed counter. Requests for the
	// same name converge on one handle.
	Counter(name string, handler async.Handler[Counter])
}
