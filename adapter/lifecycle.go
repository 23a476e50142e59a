// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"

	"github.com/cybusio/vrpc-go/wire"
)

// dispatchCreate implements __create__: constructs an anonymous instance
// and returns its generated id (§4.1, §3).
func (r *Registry) dispatchCreate(env *wire.Envelope, className, clientID string) Outcome {
	r.mu.Lock()
	entry, ok := r.classes[className]
	r.mu.Unlock()
	if !ok {
		setError(env, fmt.Sprintf("Could not find context: %s", className))
		return Outcome{}
	}

	object, err := entry.reflector.NewInstance(env.Args())
	if err != nil {
		setError(env, err.Error())
		return Outcome{}
	}

	id := r.newAnonymousID()
	rec := &instanceRecord{id: id, className: className, object: object, named: false}

	r.mu.Lock()
	r.addInstance(entry, rec)
	r.mu.Unlock()

	if err := env.SetResult(id); err != nil {
		setError(env, err.Error())
		return Outcome{}
	}

	return Outcome{ClassName: className, InstanceID: id, Created: true, Named: false}
}

// dispatchCreateNamed implements __createNamed__: the first positional
// argument is the caller-chosen name, the rest are constructor arguments.
// If an instance of that name already exists, it is returned unchanged —
// __createNamed__ is idempotent (§8).
func (r *Registry) dispatchCreateNamed(env *wire.Envelope, className, clientID string) Outcome {
	r.mu.Lock()
	entry, ok := r.classes[className]
	r.mu.Unlock()
	if !ok {
		setError(env, fmt.Sprintf("Could not find context: %s", className))
		return Outcome{}
	}

	args := env.Args()
	if len(args) == 0 {
		setError(env, "Could not find context: ")
		return Outcome{}
	}
	name, ok := args[0].(string)
	if !ok || name == "" {
		setError(env, "__createNamed__ requires a non-empty string name as its first argument")
		return Outcome{}
	}

	r.mu.Lock()
	if _, exists := entry.instances[name]; exists {
		r.mu.Unlock()
		if err := env.SetResult(name); err != nil {
			setError(env, err.Error())
			return Outcome{}
		}
		return Outcome{ClassName: className, InstanceID: name, Created: false, Named: true}
	}
	r.mu.Unlock()

	object, err := entry.reflector.NewInstance(args[1:])
	if err != nil {
		setError(env, err.Error())
		return Outcome{}
	}

	rec := &instanceRecord{id: name, className: className, object: object, named: true}
	r.mu.Lock()
	r.addInstance(entry, rec)
	r.mu.Unlock()

	if err := env.SetResult(name); err != nil {
		setError(env, err.Error())
		return Outcome{}
	}
	return Outcome{ClassName: className, InstanceID: name, Created: true, Named: true}
}

// dispatchGetNamed implements __getNamed__: returns name if a named
// instance by that name exists, otherwise sets data.e.
func (r *Registry) dispatchGetNamed(env *wire.Envelope, className string) Outcome {
	r.mu.Lock()
	entry, ok := r.classes[className]
	r.mu.Unlock()
	if !ok {
		setError(env, fmt.Sprintf("Could not find context: %s", className))
		return Outcome{}
	}

	args := env.Args()
	if len(args) == 0 {
		setError(env, "__getNamed__ requires a name argument")
		return Outcome{}
	}
	name, ok := args[0].(string)
	if !ok || name == "" {
		setError(env, "__getNamed__ requires a non-empty string name")
		return Outcome{}
	}

	r.mu.Lock()
	_, exists := entry.instances[name]
	r.mu.Unlock()
	if !exists {
		setError(env, fmt.Sprintf("Could not find context: %s", name))
		return Outcome{}
	}

	if err := env.SetResult(name); err != nil {
		setError(env, err.Error())
		return Outcome{}
	}
	return Outcome{ClassName: className, InstanceID: name, Created: false, Named: true}
}

// dispatchDelete implements __delete__: destroys the instance named by
// the single argument, whether anonymous or named. data.r is true on
// success, false otherwise — __delete__ never fails with data.e (§4.1).
func (r *Registry) dispatchDelete(env *wire.Envelope, className string) Outcome {
	args := env.Args()
	var targetID string
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			targetID = s
		}
	}
	if targetID == "" {
		targetID = className
	}

	r.mu.Lock()
	rec, ok := r.instancesByID[targetID]
	if !ok {
		r.mu.Unlock()
		_ = env.SetResult(false)
		return Outcome{}
	}
	entry := r.classes[rec.className]
	if entry != nil {
		r.removeInstance(entry, targetID)
	}
	r.mu.Unlock()

	rec.mu.Lock()
	for _, l := range rec.listeners {
		l.stopped = true
	}
	rec.mu.Unlock()

	if err := env.SetResult(true); err != nil {
		setError(env, err.Error())
		return Outcome{}
	}
	return Outcome{ClassName: rec.className, InstanceID: targetID, Deleted: true, Named: rec.named}
}

// dispatchCallAll implements __callAll__: invokes method on every
// instance of className in deterministic registration order, collecting
// one result record per instance (§4.1).
func (r *Registry) dispatchCallAll(env *wire.Envelope, className, clientID string) {
	args := env.Args()
	if len(args) == 0 {
		setError(env, "__callAll__ requires a method name argument")
		return
	}
	methodName, ok := args[0].(string)
	if !ok || methodName == "" {
		setError(env, "__callAll__ requires a non-empty string method name")
		return
	}
	callArgs := args[1:]

	r.mu.Lock()
	entry, ok := r.classes[className]
	if !ok {
		r.mu.Unlock()
		setError(env, fmt.Sprintf("Could not find context: %s", className))
		return
	}
	method, ok := entry.reflector.Members()[methodName]
	instances := entry.orderedInstances()
	r.mu.Unlock()
	if !ok {
		setError(env, fmt.Sprintf("Could not find function: %s", methodName))
		return
	}

	results := make([]wire.Value, 0, len(instances))
	for _, rec := range instances {
		record := map[string]wire.Value{"id": rec.id}
		resolvedArgs := make([]wire.Value, len(callArgs))
		for i, a := range callArgs {
			resolvedArgs[i] = r.resolveArg(a, rec, env.Sender(), clientID, nil)
		}
		value, err := method.Call(rec.object, resolvedArgs)
		if err != nil {
			record["e"] = err.Error()
		} else {
			record["r"] = value
		}
		results = append(results, record)
	}

	if err := env.SetResult(results); err != nil {
		setError(env, err.Error())
	}
}
