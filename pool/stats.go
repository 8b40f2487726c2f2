// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"container/list"
	"math"
	"sync"
	"time"
)

// EndpointStats is a point-in-time snapshot of one EndpointPool, matching
// spec.md §6's stats surface (inUse/available/created/refreshing).
type EndpointStats struct {
	Endpoint   Endpoint
	InUse      int
	Available  int
	Created    uint64
	Refreshing int

	// Latch is nil unless PoolOptions.EnableLatchStats was set.
	Latch *LatchSnapshot
}

// PoolStats aggregates EndpointStats across every pool a ConnectionPool
// currently owns.
type PoolStats struct {
	Name   string
	Hosts  []EndpointStats
}

// latchStats accumulates acquire-wait samples for one endpoint when
// PoolOptions.EnableLatchStats is set. It reuses the teacher's own
// stats.go idiom (a container/list sample window reduced to mean/stddev)
// generalized from a single global list to one per endpoint, plus
// contended/acquire/release counters.
type latchStats struct {
	mu         sync.Mutex
	samples    *list.List
	maxSamples int
	contended  uint64
	acquires   uint64
	releases   uint64
}

func newLatchStats(maxSamples int) *latchStats {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latchStats{samples: list.New(), maxSamples: maxSamples}
}

func (s *latchStats) recordAcquire(wait time.Duration, contended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	if contended {
		s.contended++
	}
	s.samples.PushBack(wait)
	for s.samples.Len() > s.maxSamples {
		s.samples.Remove(s.samples.Front())
	}
}

func (s *latchStats) recordRelease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
}

// LatchSnapshot is the contended/acquire/release counter triple plus the
// running mean/stddev of acquire-wait durations, exposed when latch
// analysis is enabled.
type LatchSnapshot struct {
	Contended   uint64
	Acquires    uint64
	Releases    uint64
	MeanWait    time.Duration
	StddevWait  time.Duration
}

func (s *latchStats) snapshot() LatchSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	mean, stddev := meanAndStddevList(s.samples)
	return LatchSnapshot{
		Contended:  s.contended,
		Acquires:   s.acquires,
		Releases:   s.releases,
		MeanWait:   time.Duration(mean),
		StddevWait: time.Duration(stddev),
	}
}

// meanAndStddevList is the teacher's standardDeviationList, generalized to
// also return the mean since PoolStats reports both.
func meanAndStddevList(l *list.List) (mean, stddev float64) {
	if l.Len() == 0 {
		return 0, 0
	}

	var variance float64
	count := 0.0

	for el := l.Front(); el != nil; el = el.Next() {
		count++
		sample := float64(el.Value.(time.Duration))

		delta := sample - mean
		mean += delta / count
		variance += delta * (sample - mean)
	}

	return mean, math.Sqrt(variance / count)
}
