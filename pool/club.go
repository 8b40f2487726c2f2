// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

// poolClub groups the EndpointPools that belong to one logical replica
// set, propagating a shared minimum-connection floor and the current
// primary. Every field is touched only while the owning ConnectionPool's
// mutex is held, same as endpointPool.
type poolClub struct {
	replicaSetName string

	defaultMinConns int
	minConns_       int
	primary         Endpoint
	hasPrimary      bool

	pools map[*endpointPool]struct{}
}

func newPoolClub(replicaSetName string, defaultMinConns int) *poolClub {
	return &poolClub{
		replicaSetName:  replicaSetName,
		defaultMinConns: defaultMinConns,
		minConns_:       defaultMinConns,
		pools:           make(map[*endpointPool]struct{}),
	}
}

// newAnonymousClub is what a pool is given when handleConfig drops it from
// its real club: a single-member, unnamed club that throws away state that
// no longer applies. Mirrors the original's resetController.
func newAnonymousClub(defaultMinConns int, member *endpointPool) *poolClub {
	c := newPoolClub("", defaultMinConns)
	c.attach(member)
	return c
}

func (c *poolClub) attach(p *endpointPool) {
	c.pools[p] = struct{}{}
	p.club = c
}

func (c *poolClub) remove(p *endpointPool) {
	delete(c.pools, p)
}

func (c *poolClub) members() []*endpointPool {
	out := make([]*endpointPool, 0, len(c.pools))
	for p := range c.pools {
		out = append(out, p)
	}
	return out
}

func (c *poolClub) minConns() int {
	return c.minConns_
}

// updateMinConns recomputes effectiveMinConns = max(defaultMinConns, max
// over pools in club of checkedOut) — the "warm on failover" policy,
// normative per spec.md §9 (the "maximum across all pools" form, not
// "primary only").
func (c *poolClub) updateMinConns() {
	min := c.defaultMinConns
	for p := range c.pools {
		if n := p.inUseConnections(); n > min {
			min = n
		}
	}
	c.minConns_ = min
}

// setPrimary records the club's primary and reports whether it changed;
// ConnectionPool.HandlePrimary then triggers a spawn pass on the newly named
// primary's pool (spec.md §4.2 handlePrimary).
func (c *poolClub) setPrimary(endpoint Endpoint) bool {
	if c.hasPrimary && c.primary == endpoint {
		return false
	}
	c.primary = endpoint
	c.hasPrimary = true
	return true
}

// checkShutdown is the club-wide HostTimedOut → InShutdown transition: only
// when every member has independently timed out does the whole club tear
// down together (spec.md §4.1's state table).
func (c *poolClub) checkShutdown() {
	for p := range c.pools {
		if p.state != stateHostTimedOut {
			return
		}
	}
	for p := range c.pools {
		p.triggerShutdown(&HostTimedOutError{Endpoint: p.endpoint})
	}
}
