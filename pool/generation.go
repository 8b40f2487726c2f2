// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

// generationCounter tracks the current generation of an EndpointPool and
// the lifetime count of connections created under it. Every Connection
// captures the generation at construction time; a callback arriving with a
// stale generation is a no-op (invariant 6).
//
// This mirrors poolGenerationMap from the topology package, collapsed from
// a map keyed by server ID (used there for load-balanced deployments with
// multiple servers behind one address) down to a single counter, since an
// EndpointPool here already corresponds to exactly one remote server. There
// is no internal locking: every call happens under the owning
// ConnectionPool's single mutex, same as the rest of endpointPool's state.
type generationCounter struct {
	generation uint64
	created    uint64
}

// current returns the generation new connections should be stamped with.
func (g *generationCounter) current() uint64 {
	return g.generation
}

// next bumps created and returns the generation a newly spawned connection
// should carry.
func (g *generationCounter) next() uint64 {
	g.created++
	return g.generation
}

// bump invalidates every connection spawned so far by advancing the
// generation, used by processFailure.
func (g *generationCounter) bump() uint64 {
	g.generation++
	return g.generation
}

// stale reports whether a connection stamped with knownGeneration predates
// the counter's current generation.
func (g *generationCounter) stale(knownGeneration uint64) bool {
	return knownGeneration != g.generation
}

func (g *generationCounter) createdCount() uint64 {
	return g.created
}
