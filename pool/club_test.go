// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	primaryEndpoint   = Endpoint{Host: "primary", Port: 27017}
	secondaryEndpoint = Endpoint{Host: "secondary", Port: 27017}
)

func TestClubWarmsSecondariesToPrimaryInUseCount(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f, WithMinConnections(1), WithMaxConnections(10))

	cp.HandleConfig(ReplicaSetConfig{SetName: "rs0", Servers: []Endpoint{primaryEndpoint, secondaryEndpoint}})
	cp.HandlePrimary("rs0", primaryEndpoint)

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := cp.Get(context.Background(), primaryEndpoint, SSLDisabled, time.Second)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	cp.mu.Lock()
	secondaryPool := cp.pools[secondaryEndpoint]
	cp.mu.Unlock()
	require.NotNil(t, secondaryPool)

	cp.mu.Lock()
	secondaryPool.spawnConnections()
	cp.mu.Unlock()

	require.Eventually(t, func() bool {
		return cp.NumConnections(secondaryEndpoint) >= 3
	}, time.Second, time.Millisecond)

	for _, h := range handles {
		h.Close()
	}
}

func TestHandleConfigDroppingAMemberGivesItAnAnonymousClub(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f, WithMinConnections(1))

	cp.HandleConfig(ReplicaSetConfig{SetName: "rs0", Servers: []Endpoint{primaryEndpoint, secondaryEndpoint}})

	h, err := cp.Get(context.Background(), primaryEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h.Close()

	// secondary leaves the set: it should fall back to its own
	// single-member club rather than keep inheriting rs0's min-conns.
	cp.HandleConfig(ReplicaSetConfig{SetName: "rs0", Servers: []Endpoint{primaryEndpoint}})

	cp.mu.Lock()
	secondaryPool, ok := cp.pools[secondaryEndpoint]
	cp.mu.Unlock()
	if ok {
		require.NotContains(t, cp.clubs["rs0"].pools, secondaryPool)
	}
}

func TestClubShutdownRequiresEveryMemberToHaveTimedOut(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f, WithMinConnections(0), WithHostTimeout(50*time.Millisecond),
		WithRefreshRequirement(10*time.Millisecond), WithRefreshTimeout(5*time.Millisecond))

	cp.HandleConfig(ReplicaSetConfig{SetName: "rs0", Servers: []Endpoint{primaryEndpoint, secondaryEndpoint}})

	h1, err := cp.Get(context.Background(), primaryEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h2, err := cp.Get(context.Background(), secondaryEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)

	h1.Close()

	cp.mu.Lock()
	cp.pools[primaryEndpoint].updateStateInLock()
	cp.mu.Unlock()

	f.clk.Add(51 * time.Millisecond)

	// Only primary has gone idle; secondary is still checked out, so the
	// club must not cascade a shutdown yet.
	require.Equal(t, 1, cp.NumConnections(secondaryEndpoint))

	h2.Close()
	cp.mu.Lock()
	cp.pools[secondaryEndpoint].updateStateInLock()
	cp.mu.Unlock()

	f.clk.Add(51 * time.Millisecond)

	require.Eventually(t, func() bool {
		return cp.NumConnections(primaryEndpoint) == 0 && cp.NumConnections(secondaryEndpoint) == 0
	}, time.Second, time.Millisecond)
}
