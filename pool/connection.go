// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"time"

	"github.com/google/uuid"
)

// SetupRefreshCallback is invoked when a Connection's setup or refresh
// attempt completes. Implementations of Connection must invoke it exactly
// once, from any goroutine; the pool's callback hands the completion to the
// pool's Executor itself before re-entering the pool.
type SetupRefreshCallback func(conn Connection, err error)

// Connection is one opaque wire connection. The pool never inspects its
// payload; it only drives the life cycle described in spec.md §3/§6.
type Connection interface {
	// Setup performs the one-time handshake for a freshly dialed
	// connection. cb must fire within timeout or report a timeout error.
	Setup(timeout time.Duration, cb SetupRefreshCallback)

	// Refresh re-validates an idle connection before it re-enters Ready.
	Refresh(timeout time.Duration, cb SetupRefreshCallback)

	// SetTimeout arms a one-shot callback after duration; CancelTimeout
	// disarms it. Only one timeout may be outstanding at a time.
	SetTimeout(duration time.Duration, cb func())
	CancelTimeout()

	IsHealthy() bool
	Endpoint() Endpoint
	Generation() uint64
	LastUsed() time.Time

	IndicateSuccess()
	IndicateFailure(err error)
	IndicateUsed()
	ResetToUnknown()

	// ID is a log/stats correlation handle, stamped at construction.
	ID() uuid.UUID
}

// ConnectionFactory produces Connections and the clock/timer source that
// the pool drives its own bookkeeping timers from. Implementations must be
// safe for concurrent use: the same factory is shared by every EndpointPool
// in a ConnectionPool.
type ConnectionFactory interface {
	MakeConnection(endpoint Endpoint, sslMode SSLMode, generation uint64) Connection
	MakeTimer() Timer
	Now() time.Time
	Shutdown()
}

// Handle is lent to a caller by EndpointPool.Get/TryGet. Closing it returns
// the underlying Connection to the pool; it must be closed once the caller
// is done with it.
type Handle struct {
	conn    Connection
	release func(Connection)
	closed  bool
}

func newHandle(conn Connection, release func(Connection)) *Handle {
	return &Handle{conn: conn, release: release}
}

// Connection exposes the underlying wire connection for the caller's RPC
// layer to use.
func (h *Handle) Connection() Connection {
	return h.conn
}

// Close returns the connection to its EndpointPool. It is safe to call more
// than once; only the first call has an effect, matching a destructor's
// single-shot semantics.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.release(h.conn)
}
