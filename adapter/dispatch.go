// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/cybusio/vrpc-go/wire"
)

// Outcome reports the lifecycle side effects of a dispatch, so that a
// tracker (§4.4) can react to instance creation/deletion without parsing
// the envelope back out. Plain static/member calls produce a zero
// Outcome.
type Outcome struct {
	// ClassName is set for __create__, __createNamed__, __getNamed__, and
	// __delete__.
	ClassName string

	// InstanceID is the affected instance id, when applicable.
	InstanceID string

	// Created is true when a new instance (anonymous or named) was
	// actually constructed — false for __createNamed__/__getNamed__ that
	// resolved to an already-existing named instance.
	Created bool

	// Named is true when InstanceID refers to a named instance.
	Named bool

	// Deleted is true when __delete__ removed an instance.
	Deleted bool

	// Failed is true when the dispatch produced data.e instead of data.r.
	Failed bool
}

// Call is the synchronous dispatch entry point (§4.1). It mutates env in
// place, placing a return value in data.r or an error string in data.e,
// and never returns a Go error for a user-visible failure — only a nil
// envelope is a programming bug, which panics per §4.1's "only internal
// programming bugs surface as fatal."
//
// clientID identifies the caller, derived by the agent from the
// envelope's sender topic (§4.3). It is used only to record and later
// release event-listener ownership (§4.1, §4.4); the adapter never
// inspects it otherwise.
func (r *Registry) Call(env *wire.Envelope, clientID string) Outcome {
	if env == nil {
		panic("adapter: Call received a nil envelope")
	}

	context := env.Context()

	var outcome Outcome
	switch env.Method() {
	case wire.MethodCreate:
		outcome = r.dispatchCreate(env, context, clientID)
	case wire.MethodCreateNamed:
		outcome = r.dispatchCreateNamed(env, context, clientID)
	case wire.MethodGetNamed:
		outcome = r.dispatchGetNamed(env, context)
	case wire.MethodDelete:
		outcome = r.dispatchDelete(env, context)
	case wire.MethodCallAll:
		r.dispatchCallAll(env, context, clientID)
	default:
		r.dispatchPlain(env, context, clientID)
	}

	if _, failed := env.Err(); failed {
		outcome.Failed = true
	}
	return outcome
}

// dispatchPlain handles everything that is not a reserved lifecycle
// method: a static call (context is a class name) or a member call
// (context is an instance id).
func (r *Registry) dispatchPlain(env *wire.Envelope, context, clientID string) {
	r.mu.Lock()
	if entry, ok := r.classes[context]; ok {
		method, ok := entry.reflector.Statics()[env.Method()]
		r.mu.Unlock()
		if !ok {
			setError(env, fmt.Sprintf("Could not find function: %s", env.Method()))
			return
		}
		r.invoke(env, nil, method, context, clientID, nil)
		return
	}
	rec, ok := r.instancesByID[context]
	r.mu.Unlock()
	if !ok {
		setError(env, fmt.Sprintf("Could not find context: %s", context))
		return
	}

	r.mu.Lock()
	entry := r.classes[rec.className]
	var method *Method
	var isEvent bool
	if entry != nil {
		method, ok = entry.reflector.Members()[env.Method()]
		isEvent = entry.reflector.EventSources()[env.Method()]
	}
	r.mu.Unlock()
	if method == nil {
		setError(env, fmt.Sprintf("Could not find function: %s", env.Method()))
		return
	}

	var eventName string
	if isEvent {
		eventName = env.Method()
	}
	r.invoke(env, rec, method, rec.id, clientID, eventNameOrNil(eventName))
}

func eventNameOrNil(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

// invoke unpacks args, resolves placeholders, calls the trampoline, and
// writes the outcome back into env (§4.1 steps 3-4).
func (r *Registry) invoke(env *wire.Envelope, rec *instanceRecord, method *Method, instanceOrClassID, clientID string, eventName *string) {
	rawArgs := env.Args()
	sender := env.Sender()
	args := make([]wire.Value, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = r.resolveArg(a, rec, sender, clientID, eventName)
	}

	var object any
	if rec != nil {
		object = rec.object
	}

	result, err := method.Call(object, args)
	if err != nil {
		setError(env, err.Error())
		return
	}

	if deferred, ok := result.(Deferred); ok {
		r.resolveDeferred(env, deferred)
		return
	}

	if err := env.SetResult(result); err != nil {
		setError(env, err.Error())
	}
}

// resolveArg replaces a callback/promise placeholder string with a
// forwarding [Callback] (§4.1 step 3); any other value passes through
// unchanged.
func (r *Registry) resolveArg(arg wire.Value, rec *instanceRecord, sender, clientID string, eventName *string) wire.Value {
	s, ok := arg.(string)
	if !ok {
		return arg
	}
	if id, ok := wire.IsCallbackTag(s); ok {
		var sub *listenerSubscription
		if rec != nil && eventName != nil {
			sub = r.registerListener(rec, clientID, *eventName, id)
		}
		return r.makeCallback(id, sender, sub)
	}
	if id, ok := wire.IsPromiseTag(s); ok {
		return r.makeCallback(id, sender, nil)
	}
	return arg
}

func (r *Registry) registerListener(rec *instanceRecord, clientID, eventName, callbackID string) *listenerSubscription {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	sub := &listenerSubscription{
		rec:        rec,
		clientID:   clientID,
		eventName:  eventName,
		callbackID: callbackID,
	}
	rec.listeners = append(rec.listeners, sub)
	return sub
}

// makeCallback returns the forwarding function installed for a resolved
// placeholder: invoking it encodes a fresh envelope (id = id, sender =
// sender so the agent can reuse it as the publish target) and emits it
// through the registered sink. When sub is non-nil, the callback is an
// event listener's; it checks sub.stopped under the owning instance's
// mutex before emitting, so delivery actually stops once
// UnregisterEventListeners or an instance delete has marked it (§4.1,
// §4.4).
func (r *Registry) makeCallback(id, sender string, sub *listenerSubscription) Callback {
	return func(args ...wire.Value) {
		if sub != nil {
			sub.rec.mu.Lock()
			stopped := sub.stopped
			sub.rec.mu.Unlock()
			if stopped {
				return
			}
		}
		env, err := wire.New("", "", args, sender, id)
		if err != nil {
			return
		}
		if err := env.SetResult(argsAsResult(args)); err != nil {
			return
		}
		r.emit(env)
	}
}

// argsAsResult collapses callback arguments into a single data.r value:
// a single argument is passed through, multiple arguments become an
// array, matching how the original caller's listener expects to receive
// either one payload or a positional list.
func argsAsResult(args []wire.Value) wire.Value {
	if len(args) == 1 {
		return args[0]
	}
	out := make([]wire.Value, len(args))
	copy(out, args)
	return out
}

// resolveDeferred implements the pending-computation path (§4.1 step 4):
// data.r is set immediately to a fresh promise tag, and the eventual
// resolution or rejection is emitted later via the callback sink under
// that tag.
func (r *Registry) resolveDeferred(env *wire.Envelope, deferred Deferred) {
	r.mu.Lock()
	r.nextPromiseID++
	promiseID := strconv.FormatUint(r.nextPromiseID, 10)
	r.mu.Unlock()

	sender := env.Sender()
	if err := env.SetResult(wire.PromiseTag(promiseID)); err != nil {
		setError(env, err.Error())
		return
	}

	tag := wire.PromiseTag(promiseID)
	deferred.Then(
		func(value wire.Value) {
			resolved, err := wire.New("", "", nil, sender, tag)
			if err != nil {
				return
			}
			if err := resolved.SetResult(value); err != nil {
				return
			}
			r.emit(resolved)
		},
		func(rejectErr error) {
			rejected, err := wire.New("", "", nil, sender, tag)
			if err != nil {
				return
			}
			if err := rejected.SetError(rejectErr.Error()); err != nil {
				return
			}
			r.emit(rejected)
		},
	)
}

func setError(env *wire.Envelope, message string) {
	_ = env.SetError(message)
}

// newAnonymousID generates a collision-free anonymous instance id by
// combining the registry's broker-unique prefix with a monotonic counter
// (§9 "Instance identity").
func (r *Registry) newAnonymousID() string {
	r.mu.Lock()
	r.nextAnonID++
	n := r.nextAnonID
	r.mu.Unlock()
	if r.idPrefix == "" {
		return fmt.Sprintf("%s-%d", uuid.NewString(), n)
	}
	return fmt.Sprintf("%s-%d", r.idPrefix, n)
}
