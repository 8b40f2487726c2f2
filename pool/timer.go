// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a one-shot, cancelable, re-armable callback scheduler. Every
// EndpointPool timer (deadline timer, idle-refresh timer, host-timeout
// timer) and every Connection timeout goes through one of these.
type Timer interface {
	// Reset (re)arms the timer to fire cb after duration, replacing any
	// previously armed callback.
	Reset(duration time.Duration, cb func())
	// Stop disarms the timer. Once Stop returns, a cb that had not yet
	// started will not run; a cb that had already started may still be
	// running, and Stop does not wait for it.
	Stop()
}

// clockTimer is the default TimerSource's Timer, backed by
// github.com/benbjohnson/clock so that tests can use clock.Mock instead of
// wall time.
//
// Open Question 1 (spec.md §9) is resolved here: rather than absorbing a
// timer firing after cancellation with a destructor guard, a fired/armed
// flag makes Stop race-free. A callback that loses the race to Stop simply
// never runs its body; one that wins observes fired and proceeds, and any
// pool-side staleness is then caught by the generation check.
type clockTimer struct {
	clk    clock.Clock
	timer  *clock.Timer
	armed  int32
	cancel chan struct{}
}

func newClockTimer(clk clock.Clock) *clockTimer {
	return &clockTimer{clk: clk}
}

func (t *clockTimer) Reset(duration time.Duration, cb func()) {
	t.Stop()

	generationCancel := make(chan struct{})
	t.cancel = generationCancel
	atomic.StoreInt32(&t.armed, 1)

	t.timer = t.clk.AfterFunc(duration, func() {
		if !atomic.CompareAndSwapInt32(&t.armed, 1, 0) {
			return
		}
		select {
		case <-generationCancel:
			return
		default:
		}
		cb()
	})
}

func (t *clockTimer) Stop() {
	if t.timer == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&t.armed, 1, 0) {
		close(t.cancel)
	}
	t.timer.Stop()
}

// clockTimerSource adapts a clock.Clock into the pool's TimerSource, used
// by the default in-process ConnectionFactory implementations.
type clockTimerSource struct {
	clk clock.Clock
}

// NewClockTimerSource returns a TimerSource backed by the real wall clock.
func NewClockTimerSource() TimerSource {
	return &clockTimerSource{clk: clock.New()}
}

// NewMockTimerSource returns a TimerSource backed by a benbjohnson/clock
// Mock, letting tests deterministically advance idle/refresh/host timers.
func NewMockTimerSource(mock *clock.Mock) TimerSource {
	return &clockTimerSource{clk: mock}
}

func (s *clockTimerSource) MakeTimer() Timer {
	return newClockTimer(s.clk)
}

func (s *clockTimerSource) Now() time.Time {
	return s.clk.Now()
}

// TimerSource is the subset of ConnectionFactory responsible for clock
// access and Timer construction; kept separate so example/test factories
// can embed it instead of reimplementing Now()/MakeTimer().
type TimerSource interface {
	MakeTimer() Timer
	Now() time.Time
}
