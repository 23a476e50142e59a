// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the envelope codec shared by every VRPC agent
// and client: a self-describing UTF-8 text dictionary carrying one RPC
// request or reply (context, method, data, sender, id).
//
// Two serialization boundaries meet in this package:
//
//   - JSON for the wire itself: envelopes travel as JSON objects on broker
//     topics. This is the only format defined here — there is no internal
//     binary protocol to keep separate from it.
//   - Positional argument keys (_1, _2, …) inside data, rather than a JSON
//     array, so that argument order survives a transport that only
//     guarantees dictionary semantics.
//
// Decoding is read-only and cheap: [Parse] uses gjson to pull the five
// envelope fields out of the raw bytes without committing to a Go type for
// each data value. Mutation after dispatch — setting data.r, data.e, or an
// updated out-parameter — is applied with sjson directly against the
// original bytes via [Envelope.SetResult], [Envelope.SetError], and
// [Envelope.SetArg]. Untouched keys, including ones this package never
// interprets, survive byte-for-byte. Re-marshaling a Go struct instead
// would reorder map keys and silently drop anything not in the struct —
// exactly what the round-trip invariant rules out.
//
// Callback and promise placeholders ([IsCallbackTag], [IsPromiseTag],
// [CallbackTag], [PromiseTag]) are plain tagged strings, never first-class
// values. The adapter package is the only place that turns a placeholder
// string into a callable function.
package wire
