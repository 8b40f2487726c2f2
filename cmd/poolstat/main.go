// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Command poolstat drives a pool.ConnectionPool against the in-memory
// memconn factory and prints PoolStats snapshots on an interval, so the
// pool's behavior can be watched without a real server.
package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mongodb-labs/connpool/examples/memconn"
	"github.com/mongodb-labs/connpool/pool"
)

func main() {
	hosts := flag.Int("hosts", 3, "number of simulated replica set members")
	clients := flag.Int("clients", 8, "number of concurrent simulated callers")
	failureRate := flag.Float64("failure-rate", 0.01, "simulated dial failure probability")
	duration := flag.Duration("duration", 30*time.Second, "how long to run before exiting")
	flag.Parse()

	factory := memconn.NewFactory(memconn.Config{
		DialLatency: 5 * time.Millisecond,
		FailureRate: *failureRate,
		Rand:        rand.New(rand.NewSource(0)),
	}, pool.NewClockTimerSource())

	monitor := &pool.PoolMonitor{
		Event: func(evt *pool.PoolEvent) {
			logrus.WithFields(logrus.Fields{
				"endpoint": evt.Endpoint,
				"reason":   evt.Reason,
			}).Debug(evt.Type)
		},
	}

	cp := pool.NewConnectionPool("poolstat",
		pool.WithFactory(factory),
		pool.WithMinConnections(2),
		pool.WithMaxConnections(20),
		pool.WithLatchStats(true),
		pool.WithPoolMonitor(monitor),
	)
	defer cp.Shutdown()

	endpoints := make([]pool.Endpoint, *hosts)
	for i := range endpoints {
		endpoints[i] = pool.Endpoint{Host: "mem-host", Port: uint16(27017 + i)}
	}

	notifier := memconn.NewNotifier()
	pool.NewChangeListener(cp, notifier)
	notifier.PushConfig(pool.ReplicaSetConfig{SetName: "rs0", Servers: endpoints})
	notifier.PushPrimary("rs0", endpoints[0])

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	for i := 0; i < *clients; i++ {
		go runClient(ctx, cp, endpoints)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			printStats(cp)
			return
		case <-ticker.C:
			printStats(cp)
		}
	}
}

func runClient(ctx context.Context, cp *pool.ConnectionPool, endpoints []pool.Endpoint) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		endpoint := endpoints[rand.Intn(len(endpoints))]
		h, err := cp.Get(ctx, endpoint, pool.SSLDisabled, 2*time.Second)
		if err != nil {
			continue
		}
		time.Sleep(10 * time.Millisecond)
		h.Close()
	}
}

func printStats(cp *pool.ConnectionPool) {
	stats := cp.AppendStats()
	for _, h := range stats.Hosts {
		logrus.WithFields(logrus.Fields{
			"endpoint":   h.Endpoint,
			"inUse":      h.InUse,
			"available":  h.Available,
			"created":    h.Created,
			"refreshing": h.Refreshing,
		}).Info("poolstat: host snapshot")
	}
}
