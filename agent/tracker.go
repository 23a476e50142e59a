// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

// instanceSet is a set of instance ids, the concrete shape of each
// clientId's bucket in the two tracker maps (§3, §4.4).
type instanceSet map[string]struct{}

func (s instanceSet) add(id string)      { s[id] = struct{}{} }
func (s instanceSet) remove(id string)   { delete(s, id) }
func (s instanceSet) contains(id string) bool {
	_, ok := s[id]
	return ok
}
func (s instanceSet) isEmpty() bool { return len(s) == 0 }

// clientTracker holds the two independent client→instance-set mappings
// (§3, §9 "client-map ownership"): anonymousClients for instances created
// with __create__, namedClients for instances created or reached via
// __createNamed__/__getNamed__. A client may appear in both maps at once
// if it owns both kinds of instance.
type clientTracker struct {
	anonymousClients map[string]instanceSet
	namedClients     map[string]instanceSet
}

func newClientTracker() *clientTracker {
	return &clientTracker{
		anonymousClients: make(map[string]instanceSet),
		namedClients:     make(map[string]instanceSet),
	}
}

// isKnown reports whether clientID already appears in either map, the
// test used to decide whether a fresh client-info subscription is needed
// (§4.4 "new to both maps").
func (t *clientTracker) isKnown(clientID string) bool {
	_, anon := t.anonymousClients[clientID]
	_, named := t.namedClients[clientID]
	return anon || named
}

// addAnonymous records instanceID as owned by clientID in the anonymous
// map, returning true if clientID was not previously known to the
// tracker at all (so the caller must subscribe to its client-info topic).
func (t *clientTracker) addAnonymous(clientID, instanceID string) (newClient bool) {
	newClient = !t.isKnown(clientID)
	set, ok := t.anonymousClients[clientID]
	if !ok {
		set = make(instanceSet)
		t.anonymousClients[clientID] = set
	}
	set.add(instanceID)
	return newClient
}

// addNamed records instanceID as reachable by clientID in the named map,
// returning true if clientID was not previously known at all.
func (t *clientTracker) addNamed(clientID, instanceID string) (newClient bool) {
	newClient = !t.isKnown(clientID)
	set, ok := t.namedClients[clientID]
	if !ok {
		set = make(instanceSet)
		t.namedClients[clientID] = set
	}
	set.add(instanceID)
	return newClient
}

// removeInstance removes instanceID from whichever map (anonymous or
// named, or both) holds it for clientID, reporting whether clientID now
// holds no entries in either map at all (so the caller must unsubscribe
// from its client-info topic and forget it).
func (t *clientTracker) removeInstance(clientID, instanceID string) (clientNowEmpty bool) {
	if set, ok := t.anonymousClients[clientID]; ok {
		set.remove(instanceID)
		if set.isEmpty() {
			delete(t.anonymousClients, clientID)
		}
	}
	if set, ok := t.namedClients[clientID]; ok {
		set.remove(instanceID)
		if set.isEmpty() {
			delete(t.namedClients, clientID)
		}
	}
	return !t.isKnown(clientID)
}

// anonymousInstancesOf returns the instance ids clientID owns in the
// anonymous map, used to synthesize __delete__ calls on client offline
// (§4.4 "Client offline").
func (t *clientTracker) anonymousInstancesOf(clientID string) []string {
	set, ok := t.anonymousClients[clientID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// forgetClient removes clientID from both maps outright, used once its
// offline handling has synthesized deletes for every instance it owned.
func (t *clientTracker) forgetClient(clientID string) {
	delete(t.anonymousClients, clientID)
	delete(t.namedClients, clientID)
}

// findOwner returns the clientId that owns instanceID in either map, and
// whether the instance was tracked at all and which map held it.
func (t *clientTracker) findOwner(instanceID string) (clientID string, named bool, ok bool) {
	for cid, set := range t.anonymousClients {
		if set.contains(instanceID) {
			return cid, false, true
		}
	}
	for cid, set := range t.namedClients {
		if set.contains(instanceID) {
			return cid, true, true
		}
	}
	return "", false, false
}
