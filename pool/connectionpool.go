// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"context"
	"sync"
	"time"
)

// ConnectionPool is the top-level entry point: a map of EndpointPools
// keyed by Endpoint and a map of PoolClubs keyed by replica-set name, all
// guarded by one mutex (spec.md §5).
type ConnectionPool struct {
	mu sync.Mutex

	options  PoolOptions
	executor Executor

	pools     map[Endpoint]*endpointPool
	clubs     map[string]*poolClub
	ownExecutor bool

	manager *Manager
}

// NewConnectionPool constructs a ConnectionPool. A Factory is required;
// everything else defaults per spec.md §6 and is nudged into a consistent
// ordering by PoolOptions.validate.
func NewConnectionPool(name string, opts ...PoolOption) *ConnectionPool {
	options := defaultPoolOptions()
	options.Name = name
	for _, opt := range opts {
		opt(&options)
	}
	if options.Factory == nil {
		panic("connection pool: a ConnectionFactory is required")
	}
	options.validate()

	cp := &ConnectionPool{
		options: options,
		pools:   make(map[Endpoint]*endpointPool),
		clubs:   make(map[string]*poolClub),
	}
	if options.Executor != nil {
		cp.executor = options.Executor
	} else {
		cp.executor = NewWorkerPoolExecutor(4, 64)
		cp.ownExecutor = true
	}
	if options.Manager != nil {
		cp.manager = options.Manager
		cp.manager.add(cp)
	}
	return cp
}

// Get returns a handle to a healthy connection to endpoint, blocking (up to
// the effective deadline, or ctx's cancellation) until one is available.
func (cp *ConnectionPool) Get(ctx context.Context, endpoint Endpoint, sslMode SSLMode, timeout time.Duration) (*Handle, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	p := cp.getOrCreatePool(endpoint)
	p.setOrCheckSSLMode(sslMode)
	return p.get(ctx, timeout)
}

// TryGet never blocks or spawns; it only succeeds if a pool already exists
// for endpoint and has a ready connection with no queued waiters.
func (cp *ConnectionPool) TryGet(endpoint Endpoint, sslMode SSLMode) (*Handle, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	p, ok := cp.pools[endpoint]
	if !ok {
		return nil, false
	}
	p.setOrCheckSSLMode(sslMode)
	h := p.tryGet()
	return h, h != nil
}

// DropConnections forces a failure cascade on a single endpoint's pool.
func (cp *ConnectionPool) DropConnections(endpoint Endpoint) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	p, ok := cp.pools[endpoint]
	if !ok {
		return
	}
	p.processFailure(&PooledConnectionsDroppedError{Endpoint: endpoint})
}

// DropConnectionsByTag cascades every pool whose tags do not intersect mask.
func (cp *ConnectionPool) DropConnectionsByTag(mask uint64) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for endpoint, p := range cp.pools {
		if p.matchesTags(mask) {
			continue
		}
		p.processFailure(&PooledConnectionsDroppedError{Endpoint: endpoint})
	}
}

// MutateTags atomically rewrites one endpoint's tag bitmask.
func (cp *ConnectionPool) MutateTags(endpoint Endpoint, fn func(uint64) uint64) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	p, ok := cp.pools[endpoint]
	if !ok {
		return
	}
	p.mutateTags(fn)
}

// AppendStats snapshots every pool's counters, per spec.md §6's stats surface.
func (cp *ConnectionPool) AppendStats() PoolStats {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	stats := PoolStats{Name: cp.options.Name}
	for endpoint, p := range cp.pools {
		es := EndpointStats{
			Endpoint:   endpoint,
			InUse:      p.inUseConnections(),
			Available:  p.availableConnections(),
			Created:    p.createdConnections(),
			Refreshing: p.refreshingConnections(),
		}
		if p.latch != nil {
			snap := p.latch.snapshot()
			es.Latch = &snap
		}
		stats.Hosts = append(stats.Hosts, es)
	}
	return stats
}

// NumConnections returns the total open-connection count for one endpoint,
// or 0 if no pool exists for it yet.
func (cp *ConnectionPool) NumConnections(endpoint Endpoint) int {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	p, ok := cp.pools[endpoint]
	if !ok {
		return 0
	}
	return p.openConnections()
}

// Shutdown cascades ShutdownInProgressError to every pool and shuts the
// factory down. It is idempotent: a second call finds no pools left to
// cascade (each removes itself from the map once drained) and is a no-op.
func (cp *ConnectionPool) Shutdown() {
	cp.options.Factory.Shutdown()

	cp.mu.Lock()
	pools := make([]*endpointPool, 0, len(cp.pools))
	for _, p := range cp.pools {
		pools = append(pools, p)
	}
	for _, p := range pools {
		p.triggerShutdown(&ShutdownInProgressError{Endpoint: p.endpoint})
	}
	stopExecutor := cp.ownExecutor
	cp.ownExecutor = false
	cp.mu.Unlock()

	if cp.manager != nil {
		cp.manager.remove(cp)
	}
	if stopExecutor {
		cp.executor.Shutdown()
	}
}

// HandleConfig is ChangeListener's bridge for a topology reconfiguration:
// spec.md §4.2 handleConfig.
func (cp *ConnectionPool) HandleConfig(cfg ReplicaSetConfig) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	club := cp.getOrCreateClub(cfg.SetName)

	oldMembers := club.pools
	club.pools = make(map[*endpointPool]struct{})

	for _, endpoint := range cfg.Servers {
		p := cp.getOrCreatePool(endpoint)
		club.attach(p)
		delete(oldMembers, p)
	}

	for p := range oldMembers {
		newAnonymousClub(int(cp.options.MinConnections), p)
	}

	club.minConns_ = club.defaultMinConns
	club.updateMinConns()
}

// HandlePrimary is ChangeListener's bridge for a primary election: spec.md
// §4.2 handlePrimary.
func (cp *ConnectionPool) HandlePrimary(setName string, endpoint Endpoint) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	club := cp.getOrCreateClub(setName)
	if club.setPrimary(endpoint) {
		if p, ok := cp.pools[endpoint]; ok {
			p.spawnConnections()
		}
	}
}

func (cp *ConnectionPool) getOrCreateClub(setName string) *poolClub {
	club, ok := cp.clubs[setName]
	if !ok {
		club = newPoolClub(setName, int(cp.options.MinConnections))
		cp.clubs[setName] = club
	}
	return club
}

func (cp *ConnectionPool) getOrCreatePool(endpoint Endpoint) *endpointPool {
	if p, ok := cp.pools[endpoint]; ok {
		return p
	}
	p := newEndpointPool(cp, endpoint)
	newAnonymousClub(int(cp.options.MinConnections), p)
	cp.pools[endpoint] = p
	return p
}

// deletePool removes a fully-drained pool from the map (invariant 7);
// called only from endpointPool.checkShutdownDelist, itself only reached
// while cp.mu is held.
func (cp *ConnectionPool) deletePool(endpoint Endpoint) {
	delete(cp.pools, endpoint)
}

// ReplicaSetConfig is the topology interface's handleConfig payload:
// spec.md §6 "handleConfig(ConnectionString{setName, servers[]})".
type ReplicaSetConfig struct {
	SetName string
	Servers []Endpoint
}

// Manager lets a process-wide component register many ConnectionPools and
// drop all of their connections at once, without owning any of them —
// spec.md §4.3 "External manager registration".
type Manager struct {
	mu    sync.Mutex
	pools map[*ConnectionPool]struct{}
}

func NewManager() *Manager {
	return &Manager{pools: make(map[*ConnectionPool]struct{})}
}

func (m *Manager) add(cp *ConnectionPool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[cp] = struct{}{}
}

func (m *Manager) remove(cp *ConnectionPool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, cp)
}

// DropAll cascades a failure on every registered pool's every endpoint.
func (m *Manager) DropAll() {
	m.mu.Lock()
	pools := make([]*ConnectionPool, 0, len(m.pools))
	for cp := range m.pools {
		pools = append(pools, cp)
	}
	m.mu.Unlock()

	for _, cp := range pools {
		cp.DropConnectionsByTag(0)
	}
}
