// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

// TopologyNotifier emits replica-set config and primary-election events.
// The replica-set monitor that discovers topology lives outside this
// module (spec.md §1); ChangeListener only consumes its notifications.
type TopologyNotifier interface {
	RegisterSync(hook func(ReplicaSetConfig))
	RegisterAsync(hook func(ReplicaSetConfig))
	RegisterPrimary(hook func(setName string, endpoint Endpoint))
}

// ChangeListener converts TopologyNotifier events into PoolClub updates
// (spec.md §4.4). Both the sync and async hooks funnel into the same
// ConnectionPool calls; the difference is only in which goroutine runs
// them.
type ChangeListener struct {
	pool *ConnectionPool
}

// NewChangeListener subscribes to notifier's config/primary streams,
// registering both its sync hook (run on the notifier's own goroutine,
// under whatever discipline it imposes) and its async hook (dispatched
// from a one-shot detached goroutine so a slow pool update never blocks
// the notifier, per spec.md §4.4).
func NewChangeListener(pool *ConnectionPool, notifier TopologyNotifier) *ChangeListener {
	cl := &ChangeListener{pool: pool}

	notifier.RegisterSync(cl.handleConfig)
	notifier.RegisterAsync(func(cfg ReplicaSetConfig) {
		go cl.handleConfig(cfg)
	})
	notifier.RegisterPrimary(cl.handlePrimary)

	return cl
}

func (cl *ChangeListener) handleConfig(cfg ReplicaSetConfig) {
	cl.pool.HandleConfig(cfg)
}

func (cl *ChangeListener) handlePrimary(setName string, endpoint Endpoint) {
	cl.pool.HandlePrimary(setName, endpoint)
}
