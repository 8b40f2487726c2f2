// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestQueueOrdersByDeadlineThenSeq(t *testing.T) {
	now := time.Now()
	var q requestQueue

	r3 := newRequest(now.Add(3*time.Second), 1)
	r1 := newRequest(now.Add(1*time.Second), 2)
	r2a := newRequest(now.Add(2*time.Second), 1)
	r2b := newRequest(now.Add(2*time.Second), 2)

	q.push(r3)
	q.push(r1)
	q.push(r2b)
	q.push(r2a)

	require.Equal(t, r1, q.popEarliest())
	require.Equal(t, r2a, q.popEarliest())
	require.Equal(t, r2b, q.popEarliest())
	require.Equal(t, r3, q.popEarliest())
	require.Equal(t, 0, q.Len())
}

func TestRequestQueueRemove(t *testing.T) {
	now := time.Now()
	var q requestQueue

	r1 := newRequest(now.Add(1*time.Second), 1)
	r2 := newRequest(now.Add(2*time.Second), 2)
	r3 := newRequest(now.Add(3*time.Second), 3)

	q.push(r1)
	q.push(r2)
	q.push(r3)

	q.remove(r2)
	require.Equal(t, 2, q.Len())

	require.Equal(t, r1, q.popEarliest())
	require.Equal(t, r3, q.popEarliest())
}

func TestRequestFulfillDeliversHandle(t *testing.T) {
	r := newRequest(time.Now(), 1)
	h := &Handle{}
	r.fulfill(h)

	res := <-r.resultCh
	require.Same(t, h, res.handle)
	require.NoError(t, res.err)
}
