// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import "github.com/cybusio/vrpc-go/wire"

// NativeClass is a [ClassReflector] built from hand-written Go trampoline
// tables. It is the form every Go host uses to expose a class, since Go
// has no runtime-introspectable class system equivalent to the source
// ecosystem's.
type NativeClass struct {
	name         string
	constructor  Constructor
	members      map[string]*Method
	statics      map[string]*Method
	eventSources map[string]bool
}

// NewNativeClass creates a class descriptor named name with the given
// constructor. Add methods with [NativeClass.Member], [NativeClass.Static],
// and [NativeClass.EventSource] before registering it.
func NewNativeClass(name string, constructor Constructor) *NativeClass {
	return &NativeClass{
		name:         name,
		constructor:  constructor,
		members:      make(map[string]*Method),
		statics:      make(map[string]*Method),
		eventSources: make(map[string]bool),
	}
}

// Member adds a member (instance) method.
func (c *NativeClass) Member(name string, call Trampoline, meta *MethodMeta) *NativeClass {
	c.members[name] = &Method{Name: name, Call: call, Meta: meta}
	return c
}

// Static adds a static method, callable with the class name as context.
func (c *NativeClass) Static(name string, call Trampoline, meta *MethodMeta) *NativeClass {
	c.statics[name] = &Method{Name: name, Call: call, Meta: meta}
	return c
}

// EventSource marks a member method as an event source (§4.1): its sole
// callback argument is retained as a subscription rather than invoked
// once. The method itself is typically a thin "register my caller as a
// listener" trampoline around the underlying object's event emitter.
func (c *NativeClass) EventSource(name string, call Trampoline, meta *MethodMeta) *NativeClass {
	c.Member(name, call, meta)
	c.eventSources[name] = true
	return c
}

func (c *NativeClass) ClassName() string { return c.name }

func (c *NativeClass) NewInstance(args []wire.Value) (any, error) {
	if c.constructor == nil {
		return nil, nil
	}
	return c.constructor(args)
}

func (c *NativeClass) Members() map[string]*Method { return c.members }

func (c *NativeClass) Statics() map[string]*Method { return c.statics }

func (c *NativeClass) EventSources() map[string]bool { return c.eventSources }

var _ ClassReflector = (*NativeClass)(nil)
