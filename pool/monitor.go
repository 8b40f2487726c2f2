// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "github.com/google/uuid"

// Event type strings, one per EndpointPool lifecycle transition a
// PoolMonitor can observe.
const (
	EventPoolCreated     = "ConnectionPoolCreated"
	EventPoolCleared     = "ConnectionPoolCleared"
	EventPoolClosed      = "ConnectionPoolClosed"
	EventConnectionCreated = "ConnectionCreated"
	EventConnectionClosed  = "ConnectionClosed"
	EventGetSucceeded      = "ConnectionCheckedOut"
	EventGetFailed         = "ConnectionCheckOutFailed"
	EventConnectionReturned = "ConnectionCheckedIn"
)

// Reason strings qualifying EventConnectionClosed/EventPoolCleared/
// EventGetFailed.
const (
	ReasonIdle              = "idle"
	ReasonPoolClosed        = "poolClosed"
	ReasonStale             = "stale"
	ReasonConnectionErrored = "connectionError"
	ReasonTimedOut          = "timeout"
)

// MonitorPoolOptions is the subset of PoolOptions a PoolEvent carries for
// context, formatted the way a monitoring sink would want to log it.
type MonitorPoolOptions struct {
	MaxPoolSize uint64
	MinPoolSize uint64
}

// PoolEvent summarizes one EndpointPool lifecycle transition.
type PoolEvent struct {
	Type         string
	Endpoint     Endpoint
	ConnectionID uuid.UUID
	PoolOptions  *MonitorPoolOptions
	Reason       string
}

// PoolMonitor lets a caller observe pool lifecycle events without
// participating in them. Event is invoked synchronously, on whichever
// goroutine is holding the pool's internal lock at the time — it must not
// block and must not call back into the ConnectionPool, same contract as
// the original driver's command/pool monitors.
type PoolMonitor struct {
	Event func(*PoolEvent)
}

func (p *endpointPool) emit(eventType string, connID uuid.UUID, reason string) {
	monitor := p.parent.options.Monitor
	if monitor == nil || monitor.Event == nil {
		return
	}
	monitor.Event(&PoolEvent{
		Type:         eventType,
		Endpoint:     p.endpoint,
		ConnectionID: connID,
		PoolOptions: &MonitorPoolOptions{
			MaxPoolSize: uint64(p.parent.options.MaxConnections),
			MinPoolSize: uint64(p.parent.options.MinConnections),
		},
		Reason: reason,
	})
}

// reasonForError maps a cascade's error to the closest Reason string,
// falling back to ReasonConnectionErrored for anything it doesn't recognize.
func reasonForError(err error) string {
	switch err.(type) {
	case *ExceededTimeLimitError:
		return ReasonTimedOut
	case *ShutdownInProgressError, *HostTimedOutError:
		return ReasonPoolClosed
	default:
		return ReasonConnectionErrored
	}
}
