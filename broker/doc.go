// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker defines the publish/subscribe capability the agent
// session depends on (§6.1): connect, publish (optionally retained, at
// QoS 0 or 1), subscribe/unsubscribe by topic filter, and an event stream
// covering both connection lifecycle and inbound messages.
//
// Two implementations are provided: mqtt wraps the ecosystem's standard
// MQTT client for production use, and memory is an in-process double for
// tests that need no network broker at all.
package broker
