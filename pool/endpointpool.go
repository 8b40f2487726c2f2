// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// poolState is the EndpointPool lifecycle state described in spec.md §4.1.
type poolState int

const (
	stateRunning poolState = iota
	stateIdle
	stateHostTimedOut
	stateInShutdown
)

func (s poolState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateIdle:
		return "idle"
	case stateHostTimedOut:
		return "hostTimedOut"
	case stateInShutdown:
		return "inShutdown"
	default:
		return "unknown"
	}
}

// endpointPool is the per (host, port) state machine: §4.1 of spec.md. It
// owns every Connection to one Endpoint through exactly one of four
// containers (invariant 1), and is only ever touched while the owning
// ConnectionPool's mutex is held.
type endpointPool struct {
	parent   *ConnectionPool
	endpoint Endpoint

	sslMode    SSLMode
	sslModeSet bool

	club *poolClub

	ready             *readyPool
	processing        map[Connection]struct{}
	droppedProcessing map[Connection]struct{}
	checkedOut        map[Connection]struct{}

	requests   requestQueue
	requestSeq uint64

	gen generationCounter

	activeClients int
	tags          uint64

	state poolState

	requestTimer           Timer
	requestTimerExpiration time.Time

	connectingSem *semaphore.Weighted
	// connecting tracks which members of processing hold a connectingSem
	// permit — only connections freshly spawned by spawnConnections do;
	// returnConnection's own refresh-on-idle path moves a connection into
	// processing without going through the semaphore, matching the
	// original's spawnConnections-only admission check.
	connecting map[Connection]struct{}

	latch *latchStats
}

func newEndpointPool(parent *ConnectionPool, endpoint Endpoint) *endpointPool {
	p := &endpointPool{
		parent:            parent,
		endpoint:          endpoint,
		ready:             newReadyPool(),
		processing:        make(map[Connection]struct{}),
		droppedProcessing: make(map[Connection]struct{}),
		checkedOut:        make(map[Connection]struct{}),
		connecting:        make(map[Connection]struct{}),
		state:             stateRunning,
		connectingSem:     semaphore.NewWeighted(int64(parent.options.MaxConcurrentConnecting)),
	}
	p.requestTimer = parent.options.Factory.MakeTimer()
	if parent.options.EnableLatchStats {
		p.latch = newLatchStats(0)
	}
	p.emit(EventPoolCreated, uuid.Nil, "")
	return p
}

// setOrCheckSSLMode fixes the SSL mode on first use, per spec.md §3; a
// later call with a different mode is a programming error.
func (p *endpointPool) setOrCheckSSLMode(mode SSLMode) {
	if !p.sslModeSet {
		p.sslMode = mode
		p.sslModeSet = true
		return
	}
	if mode != p.sslMode {
		panic(&SSLModeMismatchError{Endpoint: p.endpoint, Wanted: mode, Have: p.sslMode})
	}
}

// Get is the blocking entry point: spec.md §4.1 "get(timeout) → Future<Handle>".
// ctx cancellation maps to the caller dropping the future (spec.md §5).
func (p *endpointPool) get(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if p.state == stateInShutdown {
		p.emit(EventGetFailed, uuid.Nil, ReasonPoolClosed)
		return nil, &ShutdownInProgressError{Endpoint: p.endpoint}
	}

	start := p.parent.options.Factory.Now()

	if h := p.tryGetInternal(); h != nil {
		p.recordAcquireLatch(start, false)
		return h, nil
	}

	if timeout < 0 || timeout > p.parent.options.RefreshTimeout {
		timeout = p.parent.options.RefreshTimeout
	}
	expiration := p.parent.options.Factory.Now().Add(timeout)

	p.requestSeq++
	req := newRequest(expiration, p.requestSeq)
	p.requests.push(req)

	p.updateStateInLock()

	p.unlocked(func() {
		p.parent.executor.Schedule(func() {
			p.guard(func() { p.spawnConnections() })
		})
	})

	var result requestResult
	var canceled bool
	p.unlocked(func() {
		select {
		case result = <-req.resultCh:
		case <-ctx.Done():
			canceled = true
		}
	})
	// p.unlocked's defer has reacquired the lock by this point.
	if canceled {
		if req.inHeap {
			// Still pending: remove it so fulfillRequests never hands out a
			// connection nobody will collect.
			p.requests.remove(req)
			return nil, ctx.Err()
		}
		// Lost the race: fulfillRequests/processFailure/the deadline timer
		// already popped req and sent into resultCh under the same lock we
		// just reacquired, so the value is guaranteed to be there.
		result = <-req.resultCh
		if result.handle != nil {
			// Close re-enters the pool through the Executor, so it must run
			// with the lock dropped.
			p.unlocked(result.handle.Close)
		}
		return nil, ctx.Err()
	}
	if result.err != nil {
		p.emit(EventGetFailed, uuid.Nil, reasonForError(result.err))
	} else {
		p.recordAcquireLatch(start, true)
	}
	return result.handle, result.err
}

// recordAcquireLatch feeds the since-start wait into the endpoint's
// latchStats, if enabled. contended is true when the request had to queue
// behind a deadline timer rather than being satisfied by a ready connection
// immediately.
func (p *endpointPool) recordAcquireLatch(start time.Time, contended bool) {
	if p.latch == nil {
		return
	}
	p.latch.recordAcquire(p.parent.options.Factory.Now().Sub(start), contended)
}

// tryGet never blocks and never spawns: spec.md §4.1 "tryGet() → Option<Handle>".
func (p *endpointPool) tryGet() *Handle {
	if p.state == stateInShutdown {
		return nil
	}
	if p.requests.Len() > 0 {
		return nil
	}
	h := p.tryGetInternal()
	p.updateStateInLock()
	return h
}

// tryGetInternal pulls the MRU ready connection, skipping (and dropping)
// unhealthy ones, matching the original's loop in tryGetInternal.
func (p *endpointPool) tryGetInternal() *Handle {
	for {
		conn := p.ready.takeMRU()
		if conn == nil {
			return nil
		}
		conn.CancelTimeout()

		if !conn.IsHealthy() {
			logrus.WithField("endpoint", p.endpoint).Warn("connection pool: dropping unhealthy pooled connection")
			p.emit(EventConnectionClosed, conn.ID(), ReasonConnectionErrored)
			continue
		}

		p.checkedOut[conn] = struct{}{}
		conn.ResetToUnknown()
		p.emit(EventGetSucceeded, conn.ID(), "")
		return p.makeHandle(conn)
	}
}

func (p *endpointPool) makeHandle(conn Connection) *Handle {
	return newHandle(conn, func(c Connection) {
		p.scheduleGuarded(func() {
			p.returnConnection(c)
		})
	})
}

// returnConnection is the deleter path: a Handle was Close()'d, and its
// release re-enters the pool via guard/scheduleGuarded before calling here.
func (p *endpointPool) returnConnection(conn Connection) {
	needsRefreshAt := conn.LastUsed().Add(p.parent.options.RefreshRequirement)

	if _, ok := p.checkedOut[conn]; !ok {
		// Already handled by a concurrent cascade; nothing to do.
		return
	}
	delete(p.checkedOut, conn)
	p.emit(EventConnectionReturned, conn.ID(), "")
	if p.latch != nil {
		p.latch.recordRelease()
	}

	p.updateStateInLock()

	if p.gen.stale(conn.Generation()) {
		p.emit(EventConnectionClosed, conn.ID(), ReasonStale)
		return
	}

	if !conn.IsHealthy() {
		logrus.WithFields(logrus.Fields{
			"endpoint": p.endpoint,
			"open":     p.openConnections(),
		}).Warn("connection pool: ending connection due to bad status")
		p.emit(EventConnectionClosed, conn.ID(), ReasonConnectionErrored)
		return
	}

	now := p.parent.options.Factory.Now()
	if !needsRefreshAt.After(now) {
		if p.openConnections() >= p.club.minConns() {
			logrus.WithFields(logrus.Fields{
				"endpoint": p.endpoint,
				"open":     p.openConnections(),
			}).Info("connection pool: ending idle connection, pool already meets minConnections")
			p.emit(EventConnectionClosed, conn.ID(), ReasonIdle)
			return
		}

		p.processing[conn] = struct{}{}

		p.unlocked(func() {
			conn.Refresh(p.parent.options.RefreshTimeout, func(c Connection, err error) {
				p.scheduleGuarded(func() { p.finishRefresh(c, err) })
			})
		})
	} else {
		p.addToReady(conn)
	}

	p.updateStateInLock()
}

// addToReady places conn in Ready and arms its idle self-refresh timer
// (spec.md §4.1 "Idle self-refresh"), then tries to satisfy any waiters.
func (p *endpointPool) addToReady(conn Connection) {
	p.ready.add(conn)

	conn.SetTimeout(p.parent.options.RefreshRequirement, func() {
		p.scheduleGuarded(func() {
			if !p.ready.take(conn) {
				// Already checked out by the time the timer fired.
				return
			}
			if p.state == stateInShutdown {
				return
			}
			p.checkedOut[conn] = struct{}{}
			conn.IndicateSuccess()
			p.returnConnection(conn)
		})
	})

	p.fulfillRequests()
}

// triggerShutdown is spec.md §4.1 "triggerShutdown(status)".
func (p *endpointPool) triggerShutdown(err error) {
	p.state = stateInShutdown
	p.droppedProcessing = make(map[Connection]struct{})
	p.emit(EventPoolClosed, uuid.Nil, reasonForError(err))
	p.processFailure(err)
}

// processFailure is the failure cascade: bump generation, clear ready,
// migrate processing to droppedProcessing (or drop outright if already in
// shutdown), and fail every pending request with the same status.
func (p *endpointPool) processFailure(err error) {
	p.gen.bump()

	if p.ready.len() > 0 || len(p.processing) > 0 {
		logrus.WithFields(logrus.Fields{
			"endpoint": p.endpoint,
			"cause":    err,
		}).Warn("connection pool: dropping all pooled connections")
		p.emit(EventPoolCleared, uuid.Nil, reasonForError(err))
	}

	p.ready.clear()

	for conn := range p.processing {
		if p.state != stateInShutdown {
			p.droppedProcessing[conn] = struct{}{}
		}
	}
	p.processing = make(map[Connection]struct{})

	requestsToFail := p.requests
	p.requests = nil

	p.updateStateInLock()

	// These sends never block (resultCh has capacity 1, written exactly
	// once) and never run caller code inline, so unlike setup/refresh/
	// factory calls they don't need to drop the mutex first — doing the
	// pop-and-send atomically under the lock is what lets get()'s
	// ctx-cancellation path tell "still pending" from "already delivered"
	// apart without its own extra synchronization.
	for _, req := range requestsToFail {
		req.inHeap = false
		req.fail(err)
	}
}

// fulfillRequests is spec.md §4.1's dispatch algorithm: earliest-deadline
// waiters are handed ready connections one at a time, then the owning
// PoolClub's effective min-conns is recomputed and every member pool gets a
// spawn pass.
func (p *endpointPool) fulfillRequests() {
	for p.requests.Len() > 0 {
		h := p.tryGetInternal()
		if h == nil {
			break
		}

		req := p.requests.popEarliest()
		req.inHeap = false
		req.fulfill(h)

		p.updateStateInLock()
	}

	p.club.updateMinConns()
	for _, member := range p.club.members() {
		member.spawnConnections()
	}
}

// finishRefresh is the shared completion callback for both setup and
// refresh (spec.md §4.1 "Refresh completion").
func (p *endpointPool) finishRefresh(conn Connection, err error) {
	if _, held := p.connecting[conn]; held {
		delete(p.connecting, conn)
		p.connectingSem.Release(1)
	}

	_, wasProcessing := p.processing[conn]
	if wasProcessing {
		delete(p.processing, conn)
	} else {
		delete(p.droppedProcessing, conn)
	}

	if p.state == stateInShutdown {
		return
	}

	if p.gen.stale(conn.Generation()) {
		p.spawnConnections()
		return
	}

	if err == nil {
		p.addToReady(conn)
		return
	}

	if isExceededTimeLimit(err) {
		logrus.WithField("endpoint", p.endpoint).Info(
			"connection pool: pending connection did not complete within the connection timeout, retrying with a new connection")
		p.spawnConnections()
		return
	}

	p.processFailure(wrapHealthError(p.endpoint, err))
}

// spawnConnections is spec.md §4.1's spawn algorithm: top up to target,
// bounded by maxConnections and maxConcurrentConnecting.
func (p *endpointPool) spawnConnections() {
	for p.state != stateInShutdown &&
		p.openConnections() < p.spawnTarget() &&
		len(p.processing) < int(p.parent.options.MaxConcurrentConnecting) &&
		p.connectingSem.TryAcquire(1) {

		generation := p.gen.next()

		var conn Connection
		p.unlocked(func() {
			conn = p.parent.options.Factory.MakeConnection(p.endpoint, p.sslMode, generation)
		})

		p.processing[conn] = struct{}{}
		p.connecting[conn] = struct{}{}
		p.emit(EventConnectionCreated, conn.ID(), "")

		p.unlocked(func() {
			conn.Setup(p.parent.options.RefreshTimeout, func(c Connection, err error) {
				p.scheduleGuarded(func() { p.finishRefresh(c, err) })
			})
		})
	}
}

func (p *endpointPool) spawnTarget() int {
	target := p.club.minConns()
	want := p.requests.Len() + len(p.checkedOut)
	if want > target {
		target = want
	}
	if target > int(p.parent.options.MaxConnections) {
		target = int(p.parent.options.MaxConnections)
	}
	if target < 0 {
		target = 0
	}
	return target
}

func (p *endpointPool) matchesTags(mask uint64) bool {
	return p.tags&mask != 0
}

func (p *endpointPool) mutateTags(fn func(uint64) uint64) {
	p.tags = fn(p.tags)
}

func (p *endpointPool) inUseConnections() int      { return len(p.checkedOut) }
func (p *endpointPool) availableConnections() int  { return p.ready.len() }
func (p *endpointPool) refreshingConnections() int { return len(p.processing) }
func (p *endpointPool) createdConnections() uint64 { return p.gen.createdCount() }
func (p *endpointPool) openConnections() int {
	return p.availableConnections() + p.refreshingConnections() + p.inUseConnections()
}

// checkShutdownDelist mirrors updateStateInLock's kInShutdown branch: once
// every outstanding activeClients/processing has drained, the pool removes
// itself from the parent map (invariant 7).
func (p *endpointPool) checkShutdownDelist() {
	if p.state != stateInShutdown {
		return
	}
	if len(p.processing) == 0 && p.activeClients == 0 {
		p.club.remove(p)
		p.parent.deletePool(p.endpoint)
	}
}

// updateStateInLock manages the state machine transitions and the single
// per-pool request/idle/host timer, exactly as the original.
func (p *endpointPool) updateStateInLock() {
	if p.state == stateInShutdown {
		p.checkShutdownDelist()
		return
	}

	now := p.parent.options.Factory.Now()

	if p.requests.Len() > 0 {
		earliest := p.requests.peekEarliest()
		if p.state == stateRunning && p.requestTimerExpiration.Equal(earliest.deadline) {
			return
		}

		p.state = stateRunning
		p.requestTimer.Stop()
		p.requestTimerExpiration = earliest.deadline

		timeout := earliest.deadline.Sub(now)
		p.requestTimer.Reset(timeout, func() {
			p.scheduleGuarded(func() { p.expireOverdueRequests() })
		})
		return
	}

	if len(p.checkedOut) > 0 {
		p.requestTimer.Stop()
		p.state = stateRunning
		p.requestTimerExpiration = time.Time{}
		return
	}

	if p.state == stateIdle {
		return
	}

	p.state = stateIdle
	p.requestTimer.Stop()
	p.requestTimerExpiration = now.Add(p.parent.options.HostTimeout)

	p.requestTimer.Reset(p.parent.options.HostTimeout, func() {
		p.scheduleGuarded(func() {
			if p.state != stateIdle {
				return
			}
			p.state = stateHostTimedOut
			p.club.checkShutdown()
		})
	})
}

// expireOverdueRequests is the deadline timer's fire handler: pop every
// request whose deadline has passed, fail it with ExceededTimeLimitError,
// then re-arm for whatever's left.
func (p *endpointPool) expireOverdueRequests() {
	now := p.parent.options.Factory.Now()

	for p.requests.Len() > 0 {
		earliest := p.requests.peekEarliest()
		if earliest.deadline.After(now) {
			break
		}
		req := p.requests.popEarliest()
		req.inHeap = false
		req.fail(&ExceededTimeLimitError{Endpoint: p.endpoint, Waited: now.Sub(earliest.deadline).String()})
	}

	p.updateStateInLock()
}

// exceededTimeLimit lets finishRefresh distinguish a self-inflicted
// setup/refresh timeout (absorbed, retried) from a genuine health error
// (cascaded), per spec.md §7.
type exceededTimeLimit interface {
	exceededTimeLimit() bool
}

func isExceededTimeLimit(err error) bool {
	e, ok := err.(exceededTimeLimit)
	return ok && e.exceededTimeLimit()
}
