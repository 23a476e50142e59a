// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"sort"
	"sync"

	"github.com/cybusio/vrpc-go/wire"
)

// CallbackSink receives every callback and promise-resolution envelope
// emitted during or after a dispatch (§4.1). [Registry.OnCallback]
// installs exactly one sink, replacing any previous one.
type CallbackSink func(env *wire.Envelope)

type listenerSubscription struct {
	rec        *instanceRecord
	clientID   string
	eventName  string
	callbackID string
	stopped    bool
}

type instanceRecord struct {
	id        string
	className string
	object    any
	named     bool

	mu        sync.Mutex
	listeners []*listenerSubscription
}

type classEntry struct {
	reflector ClassReflector

	// instances and order together give deterministic registration-order
	// iteration (§4.1 __callAll__) over a Go map, whose iteration order is
	// unspecified.
	instances map[string]*instanceRecord
	order     []string
}

func (c *classEntry) addInstance(rec *instanceRecord) {
	if _, exists := c.instances[rec.id]; !exists {
		c.order = append(c.order, rec.id)
	}
	c.instances[rec.id] = rec
}

func (c *classEntry) removeInstance(id string) {
	delete(c.instances, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *classEntry) orderedInstances() []*instanceRecord {
	out := make([]*instanceRecord, 0, len(c.order))
	for _, id := range c.order {
		if rec, ok := c.instances[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Registry holds registered classes and their live instances, and
// performs synchronous dispatch (§3, §4.1).
//
// Registry has no internal goroutines and issues no broker I/O; it is
// designed to be driven entirely from the single scheduler goroutine
// described in §5, but its exported methods are safe to call from any
// goroutine (a mutex guards all state) so it can also be exercised
// directly in tests without an agent.
type Registry struct {
	mu            sync.Mutex
	classes       map[string]*classEntry
	instancesByID map[string]*instanceRecord
	sink          CallbackSink

	idPrefix      string
	nextAnonID    uint64
	nextPromiseID uint64
}

// New creates an empty registry. idPrefix is included in generated
// anonymous instance ids so ids stay collision-free across agents sharing
// a broker (§9 "Instance identity").
func New(idPrefix string) *Registry {
	return &Registry{
		classes:       make(map[string]*classEntry),
		instancesByID: make(map[string]*instanceRecord),
		idPrefix:      idPrefix,
	}
}

// addInstance registers rec under both the class entry and the global
// instance-id index. Caller must hold r.mu.
func (r *Registry) addInstance(entry *classEntry, rec *instanceRecord) {
	entry.addInstance(rec)
	r.instancesByID[rec.id] = rec
}

// removeInstance removes the instance id from the class entry and the
// global index. Caller must hold r.mu.
func (r *Registry) removeInstance(entry *classEntry, id string) {
	entry.removeInstance(id)
	delete(r.instancesByID, id)
}

// Register adds class to the registry, or replaces a prior registration
// under the same name (§4.1). Replacing a class does not affect existing
// instances' live objects, but the new descriptor's tables apply to all
// future dispatch against that class name.
func (r *Registry) Register(class ClassReflector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := class.ClassName()
	if existing, ok := r.classes[name]; ok {
		existing.reflector = class
		return
	}
	r.classes[name] = &classEntry{
		reflector: class,
		instances: make(map[string]*instanceRecord),
	}
}

// OnCallback installs the single sink for callback and promise envelopes.
func (r *Registry) OnCallback(sink CallbackSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

func (r *Registry) emit(env *wire.Envelope) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(env)
	}
}

// GetAvailableClasses returns every registered class name.
func (r *Registry) GetAvailableClasses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.classes))
	for name := range r.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetAvailableInstances returns the instance ids currently registered for
// className, in creation order.
func (r *Registry) GetAvailableInstances(className string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.classes[className]
	if !ok {
		return nil
	}
	out := make([]string, len(entry.order))
	copy(out, entry.order)
	return out
}

// GetAvailableMemberFunctions returns the member method names of className.
func (r *Registry) GetAvailableMemberFunctions(className string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.classes[className]
	if !ok {
		return nil
	}
	return methodNames(entry.reflector.Members())
}

// GetAvailableStaticFunctions returns the static method names of
// className.
func (r *Registry) GetAvailableStaticFunctions(className string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.classes[className]
	if !ok {
		return nil
	}
	return methodNames(entry.reflector.Statics())
}

// GetAvailableMetaData returns per-method introspection metadata for
// className, covering both member and static tables.
func (r *Registry) GetAvailableMetaData(className string) map[string]*MethodMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.classes[className]
	if !ok {
		return nil
	}
	meta := make(map[string]*MethodMeta)
	for name, m := range entry.reflector.Members() {
		if m.Meta != nil {
			meta[name] = m.Meta
		}
	}
	for name, m := range entry.reflector.Statics() {
		if m.Meta != nil {
			meta[name] = m.Meta
		}
	}
	return meta
}

func methodNames(methods map[string]*Method) []string {
	out := make([]string, 0, len(methods))
	for name := range methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UnregisterEventListeners removes every event subscription registered on
// behalf of clientID, across every instance of every class (§4.1, §4.4).
// Called when that client goes offline.
func (r *Registry) UnregisterEventListeners(clientID string) {
	r.mu.Lock()
	entries := make([]*classEntry, 0, len(r.classes))
	for _, entry := range r.classes {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		r.mu.Lock()
		records := make([]*instanceRecord, 0, len(entry.instances))
		for _, rec := range entry.instances {
			records = append(records, rec)
		}
		r.mu.Unlock()

		for _, rec := range records {
			rec.mu.Lock()
			kept := rec.listeners[:0:0]
			for _, l := range rec.listeners {
				if l.clientID == clientID {
					l.stopped = true
					continue
				}
				kept = append(kept, l)
			}
			rec.listeners = kept
			rec.mu.Unlock()
		}
	}
}
