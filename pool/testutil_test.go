// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// syncExecutor runs every scheduled task inline, on the scheduling
// goroutine. Production code must never do this (spec.md §5); tests use it
// so that a whole Get/spawn/complete/fulfill cycle happens deterministically
// within a single call, with no goroutine scheduling to race against.
type syncExecutor struct{}

func (syncExecutor) Schedule(task func()) { task() }
func (syncExecutor) Shutdown()            {}

// fakeFactory is a fully scripted ConnectionFactory. By default every dial
// succeeds immediately; tests override onDial to fail, or call
// manual(true) and drive completions themselves with completeOldest, to
// exercise admission control and in-flight cascades deterministically.
type fakeFactory struct {
	mu sync.Mutex

	clk    *clock.Mock
	timers TimerSource

	onDial func(c *fakeConn) error

	manualMode bool
	pending    []*pendingDial

	shutdown bool

	createdConns []*fakeConn
}

type pendingDial struct {
	conn *fakeConn
	cb   SetupRefreshCallback
}

func newFakeFactory() *fakeFactory {
	clk := clock.NewMock()
	return &fakeFactory{
		clk:    clk,
		timers: NewMockTimerSource(clk),
		onDial: func(*fakeConn) error { return nil },
	}
}

func (f *fakeFactory) manual(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manualMode = on
}

// completeOldest finishes the longest-pending dial with err, returning
// false if nothing is pending.
func (f *fakeFactory) completeOldest(err error) bool {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return false
	}
	d := f.pending[0]
	f.pending = f.pending[1:]
	f.mu.Unlock()

	d.cb(d.conn, err)
	return true
}

func (f *fakeFactory) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeFactory) MakeConnection(endpoint Endpoint, sslMode SSLMode, generation uint64) Connection {
	c := &fakeConn{
		factory:    f,
		endpoint:   endpoint,
		sslMode:    sslMode,
		generation: generation,
		healthy:    true,
		lastUsed:   f.Now(),
		timer:      f.MakeTimer(),
		id:         uuid.New(),
	}
	f.mu.Lock()
	f.createdConns = append(f.createdConns, c)
	f.mu.Unlock()
	return c
}

func (f *fakeFactory) MakeTimer() Timer { return f.timers.MakeTimer() }
func (f *fakeFactory) Now() time.Time   { return f.timers.Now() }
func (f *fakeFactory) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeFactory) dial(c *fakeConn, cb SetupRefreshCallback) {
	f.mu.Lock()
	manual := f.manualMode
	onDial := f.onDial
	f.mu.Unlock()

	if manual {
		f.mu.Lock()
		f.pending = append(f.pending, &pendingDial{conn: c, cb: cb})
		f.mu.Unlock()
		return
	}

	cb(c, onDial(c))
}

type fakeConn struct {
	factory    *fakeFactory
	endpoint   Endpoint
	sslMode    SSLMode
	generation uint64
	id         uuid.UUID

	mu       sync.Mutex
	healthy  bool
	lastUsed time.Time
	timer    Timer
}

func (c *fakeConn) Setup(timeout time.Duration, cb SetupRefreshCallback)   { c.factory.dial(c, cb) }
func (c *fakeConn) Refresh(timeout time.Duration, cb SetupRefreshCallback) { c.factory.dial(c, cb) }

func (c *fakeConn) SetTimeout(d time.Duration, cb func()) { c.timer.Reset(d, cb) }
func (c *fakeConn) CancelTimeout()                        { c.timer.Stop() }

func (c *fakeConn) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *fakeConn) Endpoint() Endpoint   { return c.endpoint }
func (c *fakeConn) Generation() uint64   { return c.generation }

func (c *fakeConn) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *fakeConn) IndicateSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = true
}

func (c *fakeConn) IndicateFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = false
}

func (c *fakeConn) IndicateUsed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = c.factory.Now()
}

func (c *fakeConn) ResetToUnknown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = true
}

func (c *fakeConn) ID() uuid.UUID { return c.id }

var testEndpoint = Endpoint{Host: "test-host", Port: 27017}

// snapshotContainers locks cp and reports one endpoint's four ownership
// container sizes, for tests asserting invariants 1/2 directly rather than
// through the public stats surface.
func (cp *ConnectionPool) snapshotContainers(endpoint Endpoint) (ready, processing, checkedOut, dropped int, ok bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	p, exists := cp.pools[endpoint]
	if !exists {
		return 0, 0, 0, 0, false
	}
	return p.ready.len(), len(p.processing), len(p.checkedOut), len(p.droppedProcessing), true
}
