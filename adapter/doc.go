// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter implements the VRPC class registry and method dispatch
// engine: the synchronous "call an envelope, get an envelope back" core
// described by the broker-mediated RPC protocol.
//
// [Registry] holds registered classes ([ClassReflector] values), the
// instance table (anonymous and named), and a single callback sink
// ([Registry.OnCallback]) that receives encoded callback and promise
// envelopes emitted during or after a dispatch. [Registry.Call] is the
// synchronous entry point: it never returns a Go error for a user-visible
// failure — every outcome is written back into the envelope's data.r or
// data.e, exactly once, so the caller always gets a reply (§4.1, §7).
//
// A class is exposed to the registry through [ClassReflector], the Go
// shape of the host object system capability the original design
// delegates to an external introspection layer (§6.2). [NativeClass]
// builds a ClassReflector from hand-written trampoline tables — the form
// every Go host uses, since Go has no equivalent of a runtime-introspectable
// class system.
//
// The adapter has no knowledge of brokers or topics. It accepts a
// caller-supplied clientID alongside each envelope purely to record event
// listener ownership (§4.1 "the adapter records (clientId, eventName,
// callbackId) on the instance") — deriving that clientID from a sender
// topic, and acting on its own create/delete results to update broker
// subscriptions, is entirely the agent package's job.
package adapter
