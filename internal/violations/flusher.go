// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package violations

import (
	"sync/atomic"
	"time"
)

// maxWaitFactor bounds how long a steady stream of triggers can postpone a
// flush, as a multiple of the quiet delay.
const maxWaitFactor = 10

// flusher runs fn once triggers have been quiet for delay. Each trigger
// restarts the wait, but never past maxWait after the first trigger of a
// burst.
type flusher struct {
	fn      func()
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	delay   time.Duration
	maxWait time.Duration
	stopped atomic.Bool
}

func newFlusher(delay, maxWait time.Duration, fn func()) *flusher {
	if maxWait < delay {
		maxWait = delay
	}

	f := &flusher{
		fn:      fn,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		delay:   delay,
		maxWait: maxWait,
	}

	go f.run()

	return f
}

func (f *flusher) run() {
	defer close(f.done)

	var (
		timer    *time.Timer
		fire     <-chan time.Time
		deadline time.Time
	)

	for {
		select {
		case <-f.trigger:
			now := time.Now()
			if timer == nil {
				deadline = now.Add(f.maxWait)
				timer = time.NewTimer(f.delay)
				fire = timer.C
				continue
			}

			// Reset discards an unreceived tick, so the flush moves with it.
			timer.Reset(min(f.delay, deadline.Sub(now)))
		case <-fire:
			timer, fire = nil, nil
			f.fn()
		case <-f.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Trigger schedules a flush. It never blocks.
func (f *flusher) Trigger() {
	if f.stopped.Load() {
		return
	}

	select {
	case f.trigger <- struct{}{}:
	default:
		// a trigger is already pending
	}
}

// Stop shuts the goroutine down without running a pending flush.
func (f *flusher) Stop() {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}

	close(f.stop)
	<-f.done
}
