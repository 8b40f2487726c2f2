// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ExceededTimeLimitError is returned when a get() request's deadline
// elapses before a connection becomes available.
type ExceededTimeLimitError struct {
	Endpoint Endpoint
	Waited   string
}

func (e *ExceededTimeLimitError) Error() string {
	return fmt.Sprintf("connection pool: couldn't get a connection to %s within the time limit (waited %s)", e.Endpoint, e.Waited)
}

// ShutdownInProgressError is returned to every waiter when the owning
// EndpointPool has had triggerShutdown called on it.
type ShutdownInProgressError struct {
	Endpoint Endpoint
}

func (e *ShutdownInProgressError) Error() string {
	return fmt.Sprintf("connection pool: shutting down the connection pool for %s", e.Endpoint)
}

// PooledConnectionsDroppedError is returned to waiters when an external
// caller forces a drop via ConnectionPool.DropConnections.
type PooledConnectionsDroppedError struct {
	Endpoint Endpoint
}

func (e *PooledConnectionsDroppedError) Error() string {
	return fmt.Sprintf("connection pool: pooled connections to %s dropped", e.Endpoint)
}

// HostTimedOutError is the cascade status used when a club collectively
// tears down after every member pool has been idle past hostTimeout.
type HostTimedOutError struct {
	Endpoint Endpoint
}

func (e *HostTimedOutError) Error() string {
	return fmt.Sprintf("connection pool: %s has been idle for longer than the host timeout", e.Endpoint)
}

// ConnectionHealthError wraps the non-OK status reported by a Connection's
// setup or refresh callback when that status triggers a failure cascade.
type ConnectionHealthError struct {
	Endpoint Endpoint
	Cause    error
}

func (e *ConnectionHealthError) Error() string {
	return fmt.Sprintf("connection pool: connection to %s is unhealthy: %s", e.Endpoint, e.Cause)
}

// Unwrap exposes the underlying cause so callers can use errors.Is/As.
func (e *ConnectionHealthError) Unwrap() error {
	return e.Cause
}

// wrapHealthError is a small helper around pkg/errors so that the original
// call site (setup/refresh) is retained in the error chain for logging.
func wrapHealthError(endpoint Endpoint, cause error) *ConnectionHealthError {
	return &ConnectionHealthError{
		Endpoint: endpoint,
		Cause:    pkgerrors.Wrap(cause, "setup/refresh failed"),
	}
}

// NetworkTimeoutError is returned by a Connection's Setup/Refresh callback
// to report that the attempt itself timed out. finishRefresh treats this
// specially: it drops only the one connection and retries with a fresh one
// rather than cascading, per spec.md §7 ("callers may have their own short
// deadlines unrelated to ours").
type NetworkTimeoutError struct {
	Endpoint Endpoint
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("connection pool: setup/refresh to %s exceeded its time limit", e.Endpoint)
}

func (e *NetworkTimeoutError) exceededTimeLimit() bool { return true }

// SSLModeMismatchError is a programming error: the same Endpoint was
// requested with two different SSL modes. Callers that hit this have a bug;
// the module panics with this error rather than silently picking a mode.
type SSLModeMismatchError struct {
	Endpoint Endpoint
	Wanted   SSLMode
	Have     SSLMode
}

func (e *SSLModeMismatchError) Error() string {
	return fmt.Sprintf("connection pool: mixing ssl modes for %s is not supported (have %s, wanted %s)",
		e.Endpoint, e.Have, e.Wanted)
}
