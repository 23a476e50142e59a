// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"strings"
	"testing"
)

func TestDeriveClientIDIsDeterministic(t *testing.T) {
	a := deriveClientID("factory1", "conveyor")
	b := deriveClientID("factory1", "conveyor")
	if a != b {
		t.Fatalf("expected deterministic clientId, got %s and %s", a, b)
	}
}

func TestDeriveClientIDHasExpectedPrefix(t *testing.T) {
	id := deriveClientID("factory1", "conveyor")
	if !strings.HasPrefix(id, clientIDPrefix) {
		t.Fatalf("expected prefix %s, got %s", clientIDPrefix, id)
	}
}

func TestDeriveClientIDDiffersByAgent(t *testing.T) {
	a := deriveClientID("factory1", "conveyor")
	b := deriveClientID("factory1", "packer")
	if a == b {
		t.Fatalf("expected different clientIds for different agents")
	}
}

func TestDeriveClientIDDiffersByDomain(t *testing.T) {
	a := deriveClientID("factory1", "conveyor")
	b := deriveClientID("factory2", "conveyor")
	if a == b {
		t.Fatalf("expected different clientIds for different domains")
	}
}
