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

// Package olric implements the store contract on an embedded Olric node. The
// store runs inside the process and forms its own data cluster with the other
// nodes it peers with, so no external server is required.
//
// Maps live in DMaps, change feeds ride Olric's pub/sub channels, counters
// are Incr/Decr-driven keys in a dedicated DMap and locks use the DMap lock
// primitive with a lease.
package olric

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tochemey/olric"
	"github.com/tochemey/olric/config"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/herd-io/herd/log"
	"github.com/herd-io/herd/store"
)

const (
	mapNamePrefix   = "herd:map:"
	eventsKeyPrefix = "herd:events:"
	countersMapName = "herd:counters"
	locksMapName    = "herd:locks"
)

// DefaultLockLease bounds how long a crashed holder can keep a lock.
const DefaultLockLease = 30 * time.Second

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(s *Store)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(s *Store)

// Apply applies the store's option
func (f OptionFunc) Apply(s *Store) {
	f(s)
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(s *Store) {
		s.logger = logger
	})
}

// WithBindAddr sets the address the embedded node binds to. Defaults to
// 127.0.0.1.
func WithBindAddr(addr string) Option {
	return OptionFunc(func(s *Store) {
		s.bindAddr = addr
	})
}

// WithBindPort sets the port the embedded node serves data on.
func WithBindPort(port int) Option {
	return OptionFunc(func(s *Store) {
		s.bindPort = port
	})
}

// WithDiscoveryPort sets the memberlist gossip port of the embedded node.
func WithDiscoveryPort(port int) Option {
	return OptionFunc(func(s *Store) {
		s.discoveryPort = port
	})
}

// WithPeers sets the addresses of existing cluster members to join. An empty
// list bootstraps a standalone node.
func WithPeers(peers ...string) Option {
	return OptionFunc(func(s *Store) {
		s.peers = peers
	})
}

// WithPartitionCount overrides the partition count of the data cluster. All
// members must agree on it.
func WithPartitionCount(count uint64) Option {
	return OptionFunc(func(s *Store) {
		s.partitionCount = count
	})
}

// WithEnvironment selects the Olric network profile: local, lan or wan.
// Defaults to local.
func WithEnvironment(env string) Option {
	return OptionFunc(func(s *Store) {
		s.environment = env
	})
}

// WithLockLease overrides the lease applied to acquired locks.
func WithLockLease(lease time.Duration) Option {
	return OptionFunc(func(s *Store) {
		s.lockLease = lease
	})
}

// Store is the embedded Olric backing store.
type Store struct {
	mu       sync.Mutex
	maps     map[string]*olricMap
	counters map[string]*olricCounter
	locks    map[string]*olricLock

	bindAddr       string
	bindPort       int
	discoveryPort  int
	peers          []string
	partitionCount uint64
	environment    string
	lockLease      time.Duration

	server *olric.Olric
	client olric.Client
	pubSub *olric.PubSub

	closed *atomic.Bool
	logger log.Logger
}

// enforce compilation error
var _ store.Store = (*Store)(nil)

// NewStore starts an embedded Olric node and returns a backing store over it.
// The node binds to the configured address and joins the configured peers;
// without peers it bootstraps a standalone cluster.
func NewStore(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		maps:        make(map[string]*olricMap),
		counters:    make(map[string]*olricCounter),
		locks:       make(map[string]*olricLock),
		bindAddr:    "127.0.0.1",
		environment: "local",
		lockLease:   DefaultLockLease,
		closed:      atomic.NewBool(false),
		logger:      log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(s)
	}

	conf, err := s.buildConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build the olric configuration: %w", err)
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conf.Started = func() { cancel() }

	server, err := olric.New(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create the olric node: %w", err)
	}
	s.server = server

	if err := s.startServer(startCtx, ctx); err != nil {
		return nil, fmt.Errorf("failed to start the olric node: %w", err)
	}

	s.client = server.NewEmbeddedClient()
	pubSub, err := s.client.NewPubSub(olric.ToAddress(s.address()))
	if err != nil {
		se := server.Shutdown(ctx)
		return nil, multierr.Combine(fmt.Errorf("failed to open the olric pub/sub pipeline: %w", err), se)
	}
	s.pubSub = pubSub

	s.logger.Infof("embedded olric node started on (%s)", s.address())
	return s, nil
}

// buildConfig derives the node configuration from the selected environment
// profile, rebinding it to the configured ports and routing the server logs
// through the store logger.
func (s *Store) buildConfig() (*config.Config, error) {
	switch s.environment {
	case "local", "lan", "wan":
	default:
		return nil, fmt.Errorf("unknown environment=(%s)", s.environment)
	}

	conf := config.New(s.environment)
	conf.BindAddr = s.bindAddr
	if s.bindPort > 0 {
		conf.BindPort = s.bindPort
	}
	conf.Peers = s.peers
	if s.partitionCount > 0 {
		conf.PartitionCount = s.partitionCount
	}

	logLevel := "INFO"
	switch s.logger.LogLevel() {
	case log.DebugLevel:
		logLevel = "DEBUG"
		conf.LogVerbosity = config.DefaultLogVerbosity
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		logLevel = "ERROR"
	case log.WarningLevel:
		logLevel = "WARN"
	default:
		// pass
	}
	conf.LogLevel = logLevel
	conf.LogOutput = newLogWriter(s.logger)

	mconfig, err := config.NewMemberlistConfig(s.environment)
	if err != nil {
		return nil, err
	}
	mconfig.BindAddr = s.bindAddr
	if s.discoveryPort > 0 {
		mconfig.BindPort = s.discoveryPort
		mconfig.AdvertisePort = s.discoveryPort
	}
	conf.MemberlistConfig = mconfig
	return conf, nil
}

// startServer runs the blocking server loop on its own goroutine and waits
// for either the started callback or a startup failure.
func (s *Store) startServer(startCtx, ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.server.Start(); err != nil {
			errCh <- multierr.Combine(err, s.server.Shutdown(ctx))
			return
		}
		errCh <- nil
	}()

	select {
	case <-startCtx.Done():
		// started successfully
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) address() string {
	return net.JoinHostPort(s.bindAddr, strconv.Itoa(s.bindPort))
}

// ID returns the driver identifier
func (s *Store) ID() string {
	return "olric"
}

// Map returns the named distributed map. Handles for the same name share the
// same DMap across the data cluster.
func (s *Store) Map(name string) (store.Map, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		dmap, err := s.client.NewDMap(mapNamePrefix + name)
		if err != nil {
			return nil, fmt.Errorf("failed to open map=(%s): %w", name, err)
		}
		m = newOlricMap(name, dmap, s.pubSub, s.closed, s.logger)
		s.maps[name] = m
	}
	return m, nil
}

// Counter returns the named distributed counter.
func (s *Store) Counter(name string) (store.Counter, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		dmap, err := s.client.NewDMap(countersMapName)
		if err != nil {
			return nil, fmt.Errorf("failed to open counter=(%s): %w", name, err)
		}
		c = newOlricCounter(name, dmap, s.closed)
		s.counters[name] = c
	}
	return c, nil
}

// Lock returns the named distributed lock.
func (s *Store) Lock(name string) (store.Lock, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		dmap, err := s.client.NewDMap(locksMapName)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock=(%s): %w", name, err)
		}
		l = newOlricLock(name, dmap, s.closed, s.lockLease, s.logger)
		s.locks[name] = l
	}
	return l, nil
}

// Close terminates every open feed orderly, leaves the data cluster and
// shuts the embedded node down.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	maps := make([]*olricMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		m.closeFeeds()
	}

	s.logger.Infof("shutting down the embedded olric node on (%s)...", s.address())
	return s.server.Shutdown(ctx)
}
