// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"container/heap"
	"time"
)

// requestResult is what a pending Get() eventually receives: either a
// Handle or the single Status that failed it.
type requestResult struct {
	handle *Handle
	err    error
}

// request is a (deadline, one-shot sink) pair. sinks are fulfilled exactly
// once, by fulfillRequests (success) or by the deadline timer/processFailure
// (failure). seq breaks ties between equal deadlines in FIFO order, since
// spec.md leaves concurrent-tie ordering unspecified.
type request struct {
	deadline time.Time
	seq      uint64
	resultCh chan requestResult
	index    int  // maintained by container/heap, used for O(log n) removal
	inHeap   bool // false once popped by fulfillRequests/expireOverdueRequests/processFailure
}

func newRequest(deadline time.Time, seq uint64) *request {
	return &request{deadline: deadline, seq: seq, resultCh: make(chan requestResult, 1), inHeap: true}
}

// fulfill and fail are the only two ways a request's sink is ever written,
// and each request is reachable from exactly one heap at a time, so callers
// don't need to guard against a double-send.

func (r *request) fulfill(h *Handle) {
	r.resultCh <- requestResult{handle: h}
}

func (r *request) fail(err error) {
	r.resultCh <- requestResult{err: err}
}

// requestQueue is a container/heap min-heap ordered by (deadline, seq),
// the Go equivalent of the original's push_heap/pop_heap over a
// std::vector<Request> with RequestComparator.
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	r := x.(*request)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return r
}

// push and popEarliest wrap container/heap so endpointpool.go never has to
// spell out heap.Push/heap.Pop directly.
func (q *requestQueue) push(r *request) {
	heap.Push(q, r)
}

func (q *requestQueue) popEarliest() *request {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*request)
}

// remove drops r from the heap by its tracked index, used when a caller's
// context is canceled before fulfillment.
func (q *requestQueue) remove(r *request) {
	heap.Remove(q, r.index)
}

func (q requestQueue) peekEarliest() *request {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
