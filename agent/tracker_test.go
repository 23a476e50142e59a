// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "testing"

func TestAddAnonymousReportsNewClient(t *testing.T) {
	tr := newClientTracker()
	if newClient := tr.addAnonymous("c1", "inst-1"); !newClient {
		t.Fatalf("expected first instance to report a new client")
	}
	if newClient := tr.addAnonymous("c1", "inst-2"); newClient {
		t.Fatalf("expected second instance for same client to not report new")
	}
}

func TestAddNamedReportsNewClientOnlyWhenUnknownToBothMaps(t *testing.T) {
	tr := newClientTracker()
	tr.addAnonymous("c1", "inst-1")
	if newClient := tr.addNamed("c1", "alice"); newClient {
		t.Fatalf("c1 already known via anonymous map, should not report new")
	}
	if newClient := tr.addNamed("c2", "alice"); !newClient {
		t.Fatalf("c2 is unseen, expected new client")
	}
}

func TestRemoveInstanceReportsClientEmptyOnlyWhenBothMapsEmpty(t *testing.T) {
	tr := newClientTracker()
	tr.addAnonymous("c1", "inst-1")
	tr.addNamed("c1", "alice")

	if empty := tr.removeInstance("c1", "inst-1"); empty {
		t.Fatalf("client still owns a named instance, should not be empty")
	}
	if empty := tr.removeInstance("c1", "alice"); !empty {
		t.Fatalf("client owns nothing now, expected empty")
	}
}

func TestAnonymousInstancesOf(t *testing.T) {
	tr := newClientTracker()
	tr.addAnonymous("c1", "inst-1")
	tr.addAnonymous("c1", "inst-2")
	tr.addAnonymous("c2", "inst-3")

	got := tr.anonymousInstancesOf("c1")
	if len(got) != 2 {
		t.Fatalf("expected 2 instances for c1, got %v", got)
	}
}

func TestForgetClientClearsBothMaps(t *testing.T) {
	tr := newClientTracker()
	tr.addAnonymous("c1", "inst-1")
	tr.addNamed("c1", "alice")
	tr.forgetClient("c1")

	if tr.isKnown("c1") {
		t.Fatalf("expected c1 to be forgotten entirely")
	}
}

func TestFindOwner(t *testing.T) {
	tr := newClientTracker()
	tr.addAnonymous("c1", "inst-1")
	tr.addNamed("c2", "alice")

	if owner, named, ok := tr.findOwner("inst-1"); !ok || owner != "c1" || named {
		t.Fatalf("got owner=%q named=%v ok=%v", owner, named, ok)
	}
	if owner, named, ok := tr.findOwner("alice"); !ok || owner != "c2" || !named {
		t.Fatalf("got owner=%q named=%v ok=%v", owner, named, ok)
	}
	if _, _, ok := tr.findOwner("ghost"); ok {
		t.Fatalf("expected unknown instance to report ok=false")
	}
}
