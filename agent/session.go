// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cybusio/vrpc-go/broker"
	"github.com/cybusio/vrpc-go/clock"
)

// sessionState is one state of the connection lifecycle state machine
// (§4.3 "State machine").
type sessionState int

const (
	stateInit sessionState = iota
	stateCleaning
	stateConnecting
	stateConnected
	stateReconnecting
	stateEnding
	stateEnded
)

func (s sessionState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateCleaning:
		return "cleaning"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	case stateEnding:
		return "ending"
	case stateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// session owns the connection lifecycle described in §4.3: a clean-
// session cleanup connect, followed by a persistent-session operational
// connect, with automatic reconnect handled by the broker implementation
// and surfaced to this session as events. It is driven entirely from the
// agent's single loop goroutine; the mutex here guards only the state
// field so State() can be read from tests without racing the loop.
type session struct {
	mu    sync.Mutex
	state sessionState

	hasConnectedBefore bool

	clientID string
	clk      clock.Clock
}

func newSession(clientID string, clk clock.Clock) *session {
	return &session{state: stateInit, clientID: clientID, clk: clk}
}

func (s *session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(next sessionState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// runCleanup performs the session-cleanup phase (§4.3 step 1): a clean
// connect immediately followed by disconnect, discarding any stale
// durable session left by a prior crashed instance.
func (s *session) runCleanup(ctx context.Context, b broker.Broker) error {
	s.setState(stateCleaning)
	if err := b.Connect(ctx, broker.ConnectOptions{
		ClientID:     s.clientID,
		CleanSession: true,
	}); err != nil {
		return &broker.ConnectError{Broker: "cleanup", Err: err}
	}
	drainEvent(b, broker.EventConnect)
	return b.End(ctx)
}

// connectOperational opens the persistent-session connection used for
// the agent's entire running lifetime (§4.3 step 2). A transient error
// retries with exponential backoff (driven by the injected clock, so
// tests can advance through it deterministically) until it succeeds or
// ctx is cancelled, mirroring the teacher's sync-loop retry pattern.
func (s *session) connectOperational(ctx context.Context, b broker.Broker, opts broker.ConnectOptions) error {
	s.setState(stateConnecting)
	opts.ClientID = s.clientID
	opts.CleanSession = false

	schedule := newBackoffSchedule()
	for {
		err := b.Connect(ctx, opts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &broker.ConnectError{Broker: "operational", Err: ctx.Err()}
		}

		select {
		case <-ctx.Done():
			return &broker.ConnectError{Broker: "operational", Err: ctx.Err()}
		case <-s.clk.After(schedule.next()):
		}
	}
}

// onConnectEvent transitions state on a broker connect event and reports
// whether this is the very first successful connect (in which case the
// caller must run initial subscription + publish; otherwise it republishes
// online status only, per §4.3 "On reconnect").
func (s *session) onConnectEvent() (firstConnect bool) {
	firstConnect = !s.hasConnectedBefore
	s.hasConnectedBefore = true
	s.setState(stateConnected)
	return firstConnect
}

func (s *session) onReconnectEvent() {
	s.setState(stateReconnecting)
}

func (s *session) onOfflineEvent() {
	s.setState(stateReconnecting)
}

// backoffSchedule returns successive backoff durations starting at
// initialBackoff and doubling up to maxBackoff, mirroring the teacher's
// exponential-backoff sync loop.
type backoffSchedule struct {
	current time.Duration
}

func newBackoffSchedule() *backoffSchedule {
	return &backoffSchedule{current: initialBackoff}
}

func (b *backoffSchedule) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > maxBackoff {
		b.current = maxBackoff
	}
	return d
}

// drainEvent blocks until the broker's event channel yields kind or the
// channel closes; used only during the synchronous cleanup connect where
// no other events can be outstanding.
func drainEvent(b broker.Broker, kind broker.EventKind) {
	for ev := range b.Events() {
		if ev.Kind == kind {
			return
		}
	}
}

// waitForConnect blocks until a connect event is observed on b's event
// channel or ctx is cancelled, returning an error in the latter case.
// Used by Agent.Run for the initial synchronous handshake before the main
// loop begins processing messages.
func waitForConnect(ctx context.Context, b broker.Broker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.Events():
			if !ok {
				return fmt.Errorf("agent: broker event channel closed before connect")
			}
			if ev.Kind == broker.EventConnect {
				return nil
			}
		}
	}
}
