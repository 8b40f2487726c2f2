// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMinConnections is the warm floor per endpoint.
	DefaultMinConnections = 1
	// DefaultRefreshRequirement is the idle duration after which a
	// connection must be refreshed before reuse.
	DefaultRefreshRequirement = 60 * time.Second
	// DefaultRefreshTimeout bounds a single setup/refresh attempt and any
	// caller-supplied Get timeout.
	DefaultRefreshTimeout = 20 * time.Second
	// DefaultHostTimeout is the idle duration after which an EndpointPool
	// may be torn down.
	DefaultHostTimeout = 300 * time.Second
)

// DefaultMaxConnections and DefaultMaxConcurrentConnecting are expressed as
// MaxInt32 rather than an "unbounded" sentinel, matching the original's use
// of numeric_limits<size_t>::max().
var (
	DefaultMaxConnections           uint32 = math.MaxInt32
	DefaultMaxConcurrentConnecting  uint32 = math.MaxInt32
	// ShardingMaxConcurrentConnecting is the profile spec.md §6 calls out
	// for sharding deployments.
	ShardingMaxConcurrentConnecting uint32 = 2
)

// PoolOptions configures a ConnectionPool. NewConnectionPool starts from the
// defaults above and applies each PoolOption over them; a field an option
// sets to zero stays zero.
type PoolOptions struct {
	Name string

	MinConnections          uint32
	MaxConnections           uint32
	MaxConcurrentConnecting uint32

	RefreshRequirement time.Duration
	RefreshTimeout     time.Duration
	HostTimeout        time.Duration

	Factory  ConnectionFactory
	Executor Executor

	// EnableLatchStats turns on per-endpoint acquire/release contention
	// sampling in PoolStats.
	EnableLatchStats bool

	// Manager, if set, registers this pool for fleet-wide DropAll calls.
	Manager *Manager

	// Monitor, if set, receives a PoolEvent for every lifecycle transition
	// of every EndpointPool this ConnectionPool owns.
	Monitor *PoolMonitor
}

// PoolOption mutates a PoolOptions value. Grounded on the functional-option
// pattern used throughout options/clientoptions.go.
type PoolOption func(*PoolOptions)

func WithMinConnections(n uint32) PoolOption {
	return func(o *PoolOptions) { o.MinConnections = n }
}

func WithMaxConnections(n uint32) PoolOption {
	return func(o *PoolOptions) { o.MaxConnections = n }
}

func WithMaxConcurrentConnecting(n uint32) PoolOption {
	return func(o *PoolOptions) { o.MaxConcurrentConnecting = n }
}

func WithRefreshRequirement(d time.Duration) PoolOption {
	return func(o *PoolOptions) { o.RefreshRequirement = d }
}

func WithRefreshTimeout(d time.Duration) PoolOption {
	return func(o *PoolOptions) { o.RefreshTimeout = d }
}

func WithHostTimeout(d time.Duration) PoolOption {
	return func(o *PoolOptions) { o.HostTimeout = d }
}

func WithFactory(f ConnectionFactory) PoolOption {
	return func(o *PoolOptions) { o.Factory = f }
}

func WithExecutor(e Executor) PoolOption {
	return func(o *PoolOptions) { o.Executor = e }
}

func WithLatchStats(enabled bool) PoolOption {
	return func(o *PoolOptions) { o.EnableLatchStats = enabled }
}

func WithManager(m *Manager) PoolOption {
	return func(o *PoolOptions) { o.Manager = m }
}

func WithPoolMonitor(m *PoolMonitor) PoolOption {
	return func(o *PoolOptions) { o.Monitor = m }
}

func defaultPoolOptions() PoolOptions {
	return PoolOptions{
		MinConnections:          DefaultMinConnections,
		MaxConnections:           DefaultMaxConnections,
		MaxConcurrentConnecting: DefaultMaxConcurrentConnecting,
		RefreshRequirement:      DefaultRefreshRequirement,
		RefreshTimeout:          DefaultRefreshTimeout,
		HostTimeout:             DefaultHostTimeout,
	}
}

// validate enforces refreshTimeout < refreshRequirement < hostTimeout,
// nudging the next value up by 1ms with a warning rather than rejecting
// the configuration outright, per spec.md §6.
func (o *PoolOptions) validate() {
	if o.RefreshRequirement <= o.RefreshTimeout {
		nudged := o.RefreshTimeout + time.Millisecond
		logrus.WithFields(logrus.Fields{
			"refreshTimeout":     o.RefreshTimeout,
			"refreshRequirement": o.RefreshRequirement,
			"nudgedTo":           nudged,
		}).Warn("connection pool: refreshRequirement must exceed refreshTimeout; nudging up")
		o.RefreshRequirement = nudged
	}
	if o.HostTimeout <= o.RefreshRequirement {
		nudged := o.RefreshRequirement + time.Millisecond
		logrus.WithFields(logrus.Fields{
			"refreshRequirement": o.RefreshRequirement,
			"hostTimeout":        o.HostTimeout,
			"nudgedTo":           nudged,
		}).Warn("connection pool: hostTimeout must exceed refreshRequirement; nudging up")
		o.HostTimeout = nudged
	}
}
