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

func TestNewConnectionPoolRequiresAFactory(t *testing.T) {
	require.Panics(t, func() {
		NewConnectionPool("no-factory")
	})
}

func TestOptionsAreNudgedIntoConsistentOrder(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f,
		WithRefreshTimeout(time.Second),
		WithRefreshRequirement(time.Second),
		WithHostTimeout(time.Second),
	)
	require.True(t, cp.options.RefreshRequirement > cp.options.RefreshTimeout)
	require.True(t, cp.options.HostTimeout > cp.options.RefreshRequirement)
}

func TestDropConnectionsByTagSparesMatchingPools(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f)

	const wantedTag = uint64(1) << 2
	otherEndpoint := Endpoint{Host: "other", Port: 27018}

	h1, err := cp.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h1.Close()
	h2, err := cp.Get(context.Background(), otherEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h2.Close()

	cp.MutateTags(testEndpoint, func(uint64) uint64 { return wantedTag })

	cp.DropConnectionsByTag(wantedTag)

	require.Equal(t, 1, cp.NumConnections(testEndpoint))
	require.Equal(t, 0, cp.NumConnections(otherEndpoint))
}

func TestManagerDropAllCascadesEveryRegisteredPool(t *testing.T) {
	mgr := NewManager()

	f1 := newFakeFactory()
	f2 := newFakeFactory()
	cp1 := newTestPool(t, f1, WithManager(mgr))
	cp2 := newTestPool(t, f2, WithManager(mgr))

	h1, err := cp1.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h1.Close()
	h2, err := cp2.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h2.Close()

	mgr.DropAll()

	require.Equal(t, 0, cp1.NumConnections(testEndpoint))
	require.Equal(t, 0, cp2.NumConnections(testEndpoint))
}

func TestAppendStatsAggregatesEveryEndpoint(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f)

	otherEndpoint := Endpoint{Host: "other", Port: 27018}

	h1, err := cp.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h2, err := cp.Get(context.Background(), otherEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)

	stats := cp.AppendStats()
	require.Len(t, stats.Hosts, 2)

	var total int
	for _, h := range stats.Hosts {
		total += h.InUse
	}
	require.Equal(t, 2, total)

	h1.Close()
	h2.Close()
}

func TestAppendStatsReportsLatchSnapshotWhenEnabled(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f, WithLatchStats(true))

	h, err := cp.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h.Close()

	stats := cp.AppendStats()
	require.Len(t, stats.Hosts, 1)
	require.NotNil(t, stats.Hosts[0].Latch)
	require.Equal(t, uint64(1), stats.Hosts[0].Latch.Acquires)
	require.Equal(t, uint64(1), stats.Hosts[0].Latch.Releases)
}

func TestAppendStatsOmitsLatchSnapshotWhenDisabled(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f)

	h, err := cp.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h.Close()

	stats := cp.AppendStats()
	require.Len(t, stats.Hosts, 1)
	require.Nil(t, stats.Hosts[0].Latch)
}

func TestSSLModeMismatchPanics(t *testing.T) {
	f := newFakeFactory()
	cp := newTestPool(t, f)

	h, err := cp.Get(context.Background(), testEndpoint, SSLDisabled, time.Second)
	require.NoError(t, err)
	h.Close()

	require.Panics(t, func() {
		cp.Get(context.Background(), testEndpoint, SSLRequired, time.Second)
	})
}
