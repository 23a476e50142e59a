// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations so the agent's connect-retry
// backoff can be tested deterministically instead of racing against
// wall-clock sleeps.
//
// agent.Config accepts a Clock field, which the agent session uses to time
// the backoff between operational connect attempts instead of calling
// time.After directly. [Real] provides the standard library behavior;
// [Fake] provides a clock that only advances when told to. broker/mqtt
// takes no Clock; its operation timeouts use the time package directly.
package clock

import "time"

// Clock is the subset of time operations the agent needs injected for
// testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel receiving the current time once d elapses.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d elapses and returns a Timer
	// that can cancel it.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer represents a scheduled, cancellable callback.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing, returning false if it already
// fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the Timer to fire after d.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
