// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import "github.com/cybusio/vrpc-go/wire"

// Constructor builds a new instance from positional arguments.
type Constructor func(args []wire.Value) (instance any, err error)

// Trampoline invokes one method (static or member) with positional
// arguments already unpacked and placeholder tags already resolved to
// [Callback] values.
type Trampoline func(instance any, args []wire.Value) (wire.Value, error)

// MethodMeta is optional per-method introspection, used only to produce
// retained class-info documents (§3, §6.2).
type MethodMeta struct {
	Description string
	ParamNames  []string
	ParamTypes  []string
	ReturnType  string
}

// Method is one entry in a class's member or static method table.
type Method struct {
	Name string
	Call Trampoline
	Meta *MethodMeta
}

// Callback is the Go shape of a resolved callback or promise placeholder
// (§4.1 step 3, §9). The object-system code invokes it with the event or
// resolution payload; the adapter forwards it to the registered callback
// sink as a fresh envelope.
type Callback func(args ...wire.Value)

// Deferred is the host object system's capability to report a pending
// computation (§6.2): a method may return a value implementing Deferred
// instead of completing synchronously. Then is called at most once, with
// either onResolve or onReject, whichever the computation settles into.
type Deferred interface {
	Then(onResolve func(wire.Value), onReject func(error))
}

// ClassReflector is the Go shape of the host object system capability
// consumed by the adapter (§6.2): construction, member/static dispatch
// tables, event-source markers, and optional per-method metadata.
type ClassReflector interface {
	// ClassName is the name classes are registered and looked up under.
	ClassName() string

	// NewInstance constructs an instance from positional constructor
	// arguments.
	NewInstance(args []wire.Value) (any, error)

	// Members returns the member (instance) method table.
	Members() map[string]*Method

	// Statics returns the static method table.
	Statics() map[string]*Method

	// EventSources returns the set of member method names that register
	// an event listener rather than perform a plain call: their sole
	// callback argument is retained as a subscription instead of being
	// invoked once and discarded.
	EventSources() map[string]bool
}
