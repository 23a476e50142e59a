// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic Clock for tests. Time stands still until
// [FakeClock.Advance] is called; After and AfterFunc register waiters that
// fire once Advance moves the clock's current time past their deadline.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a Clock whose current time only changes when Advance is
// called. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time // non-nil for After
	fn       func()         // non-nil for AfterFunc
	fired    bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := c.current.Add(d)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: deadline, ch: ch})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	w := &waiter{deadline: c.current.Add(d), fn: f}
	if d <= 0 {
		c.mu.Unlock()
		go f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w.fired {
				return false
			}
			w.fired = true // mark as consumed so Advance skips it
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasPending := !w.fired
			w.fired = false
			w.deadline = c.current.Add(d)
			listed := false
			for _, existing := range c.waiters {
				if existing == w {
					listed = true
					break
				}
			}
			if !listed {
				c.waiters = append(c.waiters, w)
			}
			return wasPending
		},
	}
}

// Advance moves the clock forward by d, synchronously firing every
// After/AfterFunc waiter whose deadline is now due, in deadline order.
// AfterFunc callbacks run synchronously on the calling goroutine; do not
// call Advance from within an AfterFunc callback registered on the same
// clock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due []*waiter
	var remaining []*waiter
	for _, w := range c.waiters {
		if !w.fired && !w.deadline.After(now) {
			due = append(due, w)
		} else if !w.fired {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		w.fired = true
	}
	c.mu.Unlock()

	for _, w := range due {
		if w.ch != nil {
			w.ch <- now
		}
		if w.fn != nil {
			w.fn()
		}
	}
}

// PendingTimers returns the number of waiters registered but not yet
// fired. Tests poll this to avoid racing timer registration against
// Advance.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.fired {
			n++
		}
	}
	return n
}
