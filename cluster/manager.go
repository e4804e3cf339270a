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
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"

	"github.com/herd-io/herd/async"
	"github.com/herd-io/herd/internal/netaddr"
	"github.com/herd-io/herd/internal/syncmap"
	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

type manager struct {
	store  store.Store
	logger log.Logger

	nodeHost string
	nodePort int
	nodeMeta map[string]string

	resyncInterval  time.Duration
	shutdownTimeout time.Duration

	initialized *atomic.Bool
	started     *atomic.Bool
	active      *atomic.Bool
	nodeID      *atomic.String

	bridge *listenerBridge

	// wiring set by Init and Start, read by operations
	mu            sync.Mutex
	runtime       async.Runtime
	membershipMap store.Map
	membership    *membershipView
	scheduler     quartz.Scheduler
	stopCtx       context.Context
	stopCancel    context.CancelFunc

	asyncMaps *syncmap.SyncMap[string, AsyncMap]
	syncMaps  *syncmap.SyncMap[string, store.Map]
	counters  *syncmap.SyncMap[string, Counter]
}

// enforce compilation error
var _ Manager = (*manager)(nil)

// New creates a cluster manager coordinating over the given backing store.
// The store's lifecycle belongs to the caller; the manager never closes it.
func New(backing store.Store, opts ...Option) (Manager, error) {
	if backing == nil {
		return nil, ErrNilStore
	}
	x := &manager{
		store:           backing,
		logger:          log.New(log.ErrorLevel, os.Stderr),
		resyncInterval:  DefaultResyncInterval,
		shutdownTimeout: DefaultShutdownTimeout,
		initialized:     atomic.NewBool(false),
		started:         atomic.NewBool(false),
		active:          atomic.NewBool(false),
		nodeID:          atomic.NewString(""),
		asyncMaps:       syncmap.New[string, AsyncMap](),
		syncMaps:        syncmap.New[string, store.Map](),
		counters:        syncmap.New[string, Counter](),
	}
	// apply the various options
	for _, opt := range opts {
		opt.Apply(x)
	}

	x.bridge = newListenerBridge(x.logger)
	return x, nil
}

// Init wires the host runtime
func (x *manager) Init(runtime async.Runtime) error {
	if runtime == nil {
		return ErrNilRuntime
	}
	x.mu.Lock()
	x.runtime = runtime
	x.mu.Unlock()
	x.initialized.Store(true)
	return nil
}

// Start opens the membership map, warms the local view and begins watching
func (x *manager) Start(ctx context.Context) error {
	if !x.initialized.Load() {
		return ErrNotInitialized
	}
	if x.started.Load() {
		return nil
	}

	logger := x.logger
	logger.Infof("starting cluster manager on store=(%s)...", x.store.ID())

	membershipMap, err := x.store.Map(MembershipMapName)
	if err != nil {
		logger.Errorf("failed to open the membership map: %v", err)
		return fmt.Errorf("failed to open the membership map: %w", err)
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())
	feed, err := membershipMap.Watch(stopCtx)
	if err != nil {
		stopCancel()
		logger.Errorf("failed to watch the membership map: %v", err)
		return fmt.Errorf("failed to watch the membership map: %w", err)
	}

	runtime := x.hostRuntime()
	x.bridge.bind(runtime.GetOrCreateContext())
	view := newMembershipView(feed, x.bridge, logger)

	// seed the view before handing it to readers; transitions already
	// buffered on the feed fold in on top without duplication
	snapshot, err := membershipMap.Entries(ctx)
	if err != nil {
		view.close()
		stopCancel()
		logger.Errorf("failed to snapshot the membership map: %v", err)
		return fmt.Errorf("failed to snapshot the membership map: %w", err)
	}
	view.reconcile(snapshot)

	var scheduler quartz.Scheduler
	if x.resyncInterval > 0 {
		scheduler, err = x.scheduleResync(stopCtx, membershipMap, view)
		if err != nil {
			view.close()
			stopCancel()
			logger.Errorf("failed to schedule the membership resync: %v", err)
			return fmt.Errorf("failed to schedule the membership resync: %w", err)
		}
	}

	x.mu.Lock()
	x.membershipMap = membershipMap
	x.membership = view
	x.scheduler = scheduler
	x.stopCtx = stopCtx
	x.stopCancel = stopCancel
	x.mu.Unlock()

	x.started.Store(true)
	logger.Infof("cluster manager successfully started on store=(%s)", x.store.ID())
	return nil
}

// Stop tears the manager down
func (x *manager) Stop(ctx context.Context) error {
	if !x.started.CompareAndSwap(true, false) {
		return nil
	}

	logger := x.logger
	logger.Infof("stopping cluster manager on store=(%s)...", x.store.ID())

	ctx, cancel := context.WithTimeout(ctx, x.shutdownTimeout)
	defer cancel()

	x.mu.Lock()
	membershipMap := x.membershipMap
	view := x.membership
	scheduler := x.scheduler
	stopCancel := x.stopCancel
	x.mu.Unlock()

	if scheduler != nil {
		_ = scheduler.Clear()
		scheduler.Stop()
		scheduler.Wait(ctx)
	}

	// a node still active at stop time leaves the cluster on the way out
	if x.active.CompareAndSwap(true, false) {
		nodeID := x.nodeID.Load()
		if err := membershipMap.Remove(ctx, nodeID); err != nil {
			logger.Warnf("node=(%s) failed to remove its membership entry: %v", nodeID, err)
		}
	}

	view.close()
	stopCancel()

	x.asyncMaps.Reset()
	x.syncMaps.Reset()
	x.counters.Reset()

	logger.Infof("cluster manager successfully stopped on store=(%s)", x.store.ID())
	return nil
}

// Join activates this node in the cluster
func (x *manager) Join(handler async.Handler[async.Unit]) {
	runtime := x.hostRuntime()
	if err := x.guard(); err != nil {
		deliver(runtime, async.Failure[async.Unit](err), handler)
		return
	}
	if !x.active.CompareAndSwap(false, true) {
		deliver(runtime, async.Failure[async.Unit](ErrAlreadyActive), handler)
		return
	}

	nodeID := uuid.NewString()
	x.nodeID.Store(nodeID)

	membershipMap, ctx := x.wiring()
	async.Dispatch(runtime, func() (async.Unit, error) {
		info, err := x.localNodeInfo()
		if err == nil {
			var encoded []byte
			if encoded, err = encodeNodeInfo(info); err == nil {
				err = membershipMap.Put(ctx, nodeID, encoded)
			}
		}
		if err != nil {
			// revert the transition so a later join can retry
			x.active.Store(false)
			x.logger.Errorf("node=(%s) failed to join the cluster: %v", nodeID, err)
			return async.Unit{}, err
		}
		x.logger.Infof("node=(%s) joined the cluster", nodeID)
		return async.Unit{}, nil
	}, handler)
}

// Leave deactivates this node and removes its membership entry
func (x *manager) Leave(handler async.Handler[async.Unit]) {
	runtime := x.hostRuntime()
	if err := x.guard(); err != nil {
		deliver(runtime, async.Failure[async.Unit](err), handler)
		return
	}
	if !x.active.CompareAndSwap(true, false) {
		deliver(runtime, async.Failure[async.Unit](ErrAlreadyInactive), handler)
		return
	}

	nodeID := x.nodeID.Load()
	membershipMap, ctx := x.wiring()
	async.Dispatch(runtime, func() (async.Unit, error) {
		if err := membershipMap.Remove(ctx, nodeID); err != nil {
			// revert the transition so the departure can be retried
			x.active.Store(true)
			x.logger.Errorf("node=(%s) failed to leave the cluster: %v", nodeID, err)
			return async.Unit{}, err
		}
		x.logger.Infof("node=(%s) left the cluster", nodeID)
		return async.Unit{}, nil
	}, handler)
}

// IsActive reports whether this node has joined and not yet left
func (x *manager) IsActive() bool {
	return x.active.Load()
}

// NodeID returns the identity generated by the most recent join
func (x *manager) NodeID() string {
	return x.nodeID.Load()
}

// ListNodeIDs returns the node ids currently present in the membership view
func (x *manager) ListNodeIDs() []string {
	if err := x.guard(); err != nil {
		x.logger.Debugf("listing node ids: %v", err)
		return nil
	}
	x.mu.Lock()
	view := x.membership
	x.mu.Unlock()

	nodeIDs := view.NodeIDs()
	if len(nodeIDs) == 0 {
		x.logger.Debug("membership view is empty")
	}
	return nodeIDs
}

// RegisterNodeListener attaches the membership listener
func (x *manager) RegisterNodeListener(listener NodeListener) error {
	if err := x.guard(); err != nil {
		return err
	}
	return x.bridge.register(listener)
}

// AsyncMap resolves the named distributed map
func (x *manager) AsyncMap(name string, handler async.Handler[AsyncMap]) {
	runtime := x.hostRuntime()
	if err := x.guard(); err != nil {
		deliver(runtime, async.Failure[AsyncMap](err), handler)
		return
	}
	if name == MembershipMapName {
		deliver(runtime, async.Failure[AsyncMap](ErrReservedName), handler)
		return
	}

	_, ctx := x.wiring()
	async.Dispatch(runtime, func() (AsyncMap, error) {
		if cached, ok := x.asyncMaps.Get(name); ok {
			return cached, nil
		}
		backing, err := x.store.Map(name)
		if err != nil {
			return nil, err
		}
		handle, _ := x.asyncMaps.LoadOrStore(name, func() AsyncMap {
			return newAsyncMap(name, backing, runtime, ctx)
		})
		return handle, nil
	}, handler)
}

// SyncMap resolves the named distributed map as a synchronous surface. The
// reserved membership name returns the live membership view.
func (x *manager) SyncMap(name string) (store.Map, error) {
	if err := x.guard(); err != nil {
		return nil, err
	}
	if name == MembershipMapName {
		x.mu.Lock()
		view := x.membership
		x.mu.Unlock()
		return view, nil
	}

	if cached, ok := x.syncMaps.Get(name); ok {
		return cached, nil
	}
	backing, err := x.store.Map(name)
	if err != nil {
		return nil, err
	}
	handle, _ := x.syncMaps.LoadOrStore(name, func() store.Map {
		return backing
	})
	return handle, nil
}

// LockWithTimeout acquires the named distributed lock
func (x *manager) LockWithTimeout(name string, timeout time.Duration, handler async.Handler[Lock]) {
	runtime := x.hostRuntime()
	if err := x.guard(); err != nil {
		deliver(runtime, async.Failure[Lock](err), handler)
		return
	}

	_, ctx := x.wiring()
	async.Dispatch(runtime, func() (Lock, error) {
		lock, err := x.store.Lock(name)
		if err != nil {
			return nil, err
		}
		held, err := lock.Acquire(ctx, timeout)
		if err != nil {
			return nil, err
		}
		return newLockHandle(name, held, x.logger), nil
	}, handler)
}

// Counter resolves the named distributed counter
func (x *manager) Counter(name string, handler async.Handler[Counter]) {
	runtime := x.hostRuntime()
	if err := x.guard(); err != nil {
		deliver(runtime, async.Failure[Counter](err), handler)
		return
	}

	_, ctx := x.wiring()
	async.Dispatch(runtime, func() (Counter, error) {
		if cached, ok := x.counters.Get(name); ok {
			return cached, nil
		}
		backing, err := x.store.Counter(name)
		if err != nil {
			return nil, err
		}
		handle, _ := x.counters.LoadOrStore(name, func() Counter {
			return newCounterHandle(name, backing, runtime, ctx)
		})
		return handle, nil
	}, handler)
}

// scheduleResync arms the periodic reconciliation of the membership view
// against full snapshots of the membership map. It repairs short feed gaps
// and surfaces store-side entry expiry as ordinary node-left transitions.
func (x *manager) scheduleResync(ctx context.Context, membershipMap store.Map, view *membershipView) (quartz.Scheduler, error) {
	scheduler, err := quartz.NewStdScheduler(quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	if err != nil {
		return nil, err
	}
	scheduler.Start(ctx)

	resync := job.NewFunctionJob[bool](func(jobCtx context.Context) (bool, error) {
		if x.bridge.isLost() {
			return true, nil
		}
		snapshot, err := membershipMap.Entries(jobCtx)
		if err != nil {
			x.logger.Warnf("membership resync failed: %v", err)
			return false, err
		}
		view.reconcile(snapshot)
		return true, nil
	})

	detail := quartz.NewJobDetail(resync, quartz.NewJobKey("membership-resync"))
	if err := scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(x.resyncInterval)); err != nil {
		scheduler.Stop()
		return nil, err
	}
	return scheduler, nil
}

// guard validates that the manager can serve a store-backed operation.
func (x *manager) guard() error {
	if !x.initialized.Load() {
		return ErrNotInitialized
	}
	if !x.started.Load() {
		return ErrManagerNotStarted
	}
	return nil
}

func (x *manager) hostRuntime() async.Runtime {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.runtime
}

func (x *manager) wiring() (store.Map, context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.membershipMap, x.stopCtx
}

// localNodeInfo builds the membership entry this node advertises, resolving
// the host to a reachable interface address when none was configured.
func (x *manager) localNodeInfo() (NodeInfo, error) {
	host := x.nodeHost
	if host == "" || host == "0.0.0.0" {
		resolved, err := netaddr.Advertise(net.JoinHostPort("0.0.0.0", strconv.Itoa(x.nodePort)))
		if err != nil {
			return NodeInfo{}, fmt.Errorf("failed to resolve the advertise host: %w", err)
		}
		host = resolved
	}
	return NodeInfo{Host: host, Port: x.nodePort, Meta: x.nodeMeta}, nil
}

// deliver posts a known result through the runtime. Operations invoked before
// the manager is initialized have no runtime to deliver on; their failure is
// posted on a free goroutine so the handler still never runs inline.
func deliver[T any](runtime async.Runtime, result async.Result[T], handler async.Handler[T]) {
	if handler == nil {
		return
	}
	if runtime == nil {
		go handler(result)
		return
	}
	async.Deliver(runtime, result, handler)
}
