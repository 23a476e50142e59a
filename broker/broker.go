// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
)

// EventKind identifies the kind of a [Event] delivered on a Broker's event
// channel (§6.1, §5).
type EventKind int

const (
	// EventConnect fires once a connection (initial or reconnect) is
	// established and the will/session setup for it has completed.
	EventConnect EventKind = iota
	// EventReconnect fires when the underlying client begins an automatic
	// reconnect attempt after an unplanned disconnect.
	EventReconnect
	// EventOffline fires when an established connection drops. An
	// implementation with automatic reconnect keeps retrying afterwards and
	// reports each attempt as EventReconnect.
	EventOffline
	// EventError carries a non-fatal transport error (§7 kind 4).
	EventError
	// EventMessage carries one inbound publish matching a live
	// subscription.
	EventMessage
	// EventClose fires once End has completed and no further events will
	// be delivered.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventReconnect:
		return "reconnect"
	case EventOffline:
		return "offline"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one item delivered on a Broker's event channel.
type Event struct {
	Kind EventKind

	// Topic and Payload are set for EventMessage.
	Topic   string
	Payload []byte
	// Retained reports whether the inbound message carried the broker's
	// retained flag (a snapshot delivered on fresh subscription, not a
	// live publish).
	Retained bool

	// Err is set for EventError and EventOffline.
	Err error
}

// PublishOptions configures one Publish call (§5 "QoS defaults", §6.4
// bestEffort).
type PublishOptions struct {
	// Retain marks the message to be stored by the broker and redelivered
	// to future subscribers until replaced or cleared by an empty retained
	// publish.
	Retain bool
	// QoS1 requests at-least-once delivery. Callers should set this false
	// whenever the session's bestEffort flag is active, downgrading to
	// QoS 0 (§5).
	QoS1 bool
}

// SubscribeOptions configures one Subscribe call (§5 "QoS defaults", §6.1
// "subscribe {qos}").
type SubscribeOptions struct {
	// QoS1 requests at-least-once delivery for messages matching this
	// subscription. Callers should set this false whenever the session's
	// bestEffort flag is active, downgrading to QoS 0 (§5).
	QoS1 bool
}

// ConnectOptions carries the session-identifying and last-will parameters
// of a Connect call (§4.3, §6.4).
type ConnectOptions struct {
	ClientID string
	Username string
	Password string

	// CleanSession, when false, requests that the broker restore a prior
	// subscription set under the same ClientID (§4.3 "durable session").
	CleanSession bool

	// WillTopic, WillPayload, and WillRetain describe a last-will message
	// the broker publishes on this client's behalf if the connection is
	// lost uncleanly (§4.3).
	WillTopic   string
	WillPayload []byte
	WillRetain  bool
}

// ConnectError reports a failure to establish a broker connection (§7 kind
// 5).
type ConnectError struct {
	Broker string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("broker: connecting to %s: %v", e.Broker, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsConnectError reports whether err is, or wraps, a [*ConnectError].
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

// Broker is the capability the agent session depends on (§6.1). It models
// a single logical connection: implementations are not required to be
// safe for concurrent use from more than one goroutine, matching the
// single-scheduler-goroutine model in §5.
type Broker interface {
	// Connect establishes the connection. Events fires a connect event on
	// success; Connect itself returns once that handshake has completed or
	// failed.
	Connect(ctx context.Context, opts ConnectOptions) error

	// Publish sends payload to topic. For a retained publish with an empty
	// payload, the broker clears any previously retained message on that
	// topic (§4.4 "class-info retraction").
	Publish(ctx context.Context, topic string, payload []byte, opts PublishOptions) error

	// Subscribe adds topic (which may contain MQTT wildcards + and #) to
	// this connection's subscription set. Matching inbound messages,
	// including any currently retained message, arrive as EventMessage.
	Subscribe(ctx context.Context, topic string, opts SubscribeOptions) error

	// Unsubscribe removes topic from the subscription set.
	Unsubscribe(ctx context.Context, topic string) error

	// Events returns the channel every [Event] is delivered on. The
	// channel is closed after End completes.
	Events() <-chan Event

	// End closes the connection and releases resources. Idempotent.
	End(ctx context.Context) error
}
