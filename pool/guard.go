// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

// guard is the Go shape of the original's guardCallback: every callback
// that re-enters an endpointPool (setup/refresh completions, timers, the
// return-connection path) goes through it. It reacquires the single
// ConnectionPool mutex, bumps activeClients so the pool can't delist itself
// mid-callback, runs fn with the lock held, then decrements and unlocks.
//
// Unlike the original's shared_from_this anchor (needed because C++ has no
// GC), the Go version only needs the activeClients bump: the endpointPool
// itself is kept alive by ordinary Go references held by the closures
// capturing it, so there's no lifetime problem to paper over.
func (p *endpointPool) guard(fn func()) {
	p.parent.mu.Lock()
	p.activeClients++
	defer func() {
		p.activeClients--
		p.checkShutdownDelist()
		p.parent.mu.Unlock()
	}()
	fn()
}

// scheduleGuarded posts fn to the pool's Executor, wrapped in guard. This
// is how setup/refresh completions, timer fires, and returnConnection's
// deleter all re-enter the pool off the caller's own stack.
func (p *endpointPool) scheduleGuarded(fn func()) {
	p.parent.executor.Schedule(func() {
		p.guard(fn)
	})
}

// unlocked drops the ConnectionPool mutex for the duration of fn, then
// reacquires it. Factory calls, Connection.Setup/Refresh, and the pool's
// own Executor.Schedule calls go through this so that no user code runs
// while the mutex is held. Result-channel sends are the exception: they
// never block and run no caller code, so they happen under the lock (see
// processFailure).
func (p *endpointPool) unlocked(fn func()) {
	p.parent.mu.Unlock()
	defer p.parent.mu.Lock()
	fn()
}
