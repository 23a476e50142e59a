// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	raw := []byte(`{"context":"TestClass","method":"hasEntry","data":{"_1":"test","extra":{"nested":[1,2,3]}},"sender":"s1","id":"2"}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := env.Context(); got != "TestClass" {
		t.Fatalf("Context() = %q, want TestClass", got)
	}
	if got := env.Method(); got != "hasEntry" {
		t.Fatalf("Method() = %q, want hasEntry", got)
	}
	if got := env.Sender(); got != "s1" {
		t.Fatalf("Sender() = %q, want s1", got)
	}
	if got := env.ID(); got != "2" {
		t.Fatalf("ID() = %q, want 2", got)
	}
	args := env.Args()
	if len(args) != 1 || args[0] != "test" {
		t.Fatalf("Args() = %v, want [test]", args)
	}

	var before, after map[string]any
	if err := json.Unmarshal(raw, &before); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(env.Raw(), &after); err != nil {
		t.Fatal(err)
	}
	extraBefore := before["data"].(map[string]any)["extra"]
	extraAfter := after["data"].(map[string]any)["extra"]
	beforeJSON, _ := json.Marshal(extraBefore)
	afterJSON, _ := json.Marshal(extraAfter)
	if string(beforeJSON) != string(afterJSON) {
		t.Fatalf("untouched nested key mutated: before=%s after=%s", beforeJSON, afterJSON)
	}
}

func TestSetResultClearsError(t *testing.T) {
	env, err := New("X", "hasEntry", []Value{"test"}, "s1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.SetError("boom"); err != nil {
		t.Fatal(err)
	}
	if err := env.SetResult(false); err != nil {
		t.Fatal(err)
	}
	result, ok := env.Result()
	if !ok || result != false {
		t.Fatalf("Result() = %v, %v, want false, true", result, ok)
	}
	if _, ok := env.Err(); ok {
		t.Fatalf("Err() present after SetResult, want cleared")
	}
}

func TestSetErrorClearsResult(t *testing.T) {
	env, err := New("X", "hasEntry", nil, "s1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.SetResult("ok"); err != nil {
		t.Fatal(err)
	}
	if err := env.SetError("Could not find function: nope"); err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Result(); ok {
		t.Fatalf("Result() present after SetError, want cleared")
	}
	message, ok := env.Err()
	if !ok || message != "Could not find function: nope" {
		t.Fatalf("Err() = %q, %v", message, ok)
	}
}

func TestNeverBothResultAndError(t *testing.T) {
	env, err := New("X", "hasEntry", nil, "s1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Result(); ok {
		t.Fatalf("fresh envelope has data.r set")
	}
	if _, ok := env.Err(); ok {
		t.Fatalf("fresh envelope has data.e set")
	}
}

func TestPlaceholderTags(t *testing.T) {
	if id, ok := IsCallbackTag("__f__cb-1"); !ok || id != "cb-1" {
		t.Fatalf("IsCallbackTag = %q, %v", id, ok)
	}
	if id, ok := IsPromiseTag("__p__7"); !ok || id != "7" {
		t.Fatalf("IsPromiseTag = %q, %v", id, ok)
	}
	if _, ok := IsCallbackTag("just a string"); ok {
		t.Fatalf("IsCallbackTag matched a non-placeholder string")
	}
	if CallbackTag("cb-1") != "__f__cb-1" {
		t.Fatalf("CallbackTag mismatch")
	}
	if PromiseTag("7") != "__p__7" {
		t.Fatalf("PromiseTag mismatch")
	}
}

func TestArgsOrderingAndSparseKeys(t *testing.T) {
	raw := []byte(`{"context":"C","method":"m","data":{"_2":"second","_1":"first","_10":"tenth"}}`)
	env, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	args := env.Args()
	want := []Value{"first", "second", "tenth"}
	if len(args) != len(want) {
		t.Fatalf("Args() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("Args()[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestSetArgMutatesOutParameter(t *testing.T) {
	env, err := New("X", "m", []Value{"before"}, "s1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.SetArg(1, "after"); err != nil {
		t.Fatal(err)
	}
	if got := env.Args()[0]; got != "after" {
		t.Fatalf("Args()[0] = %v, want after", got)
	}
}

func TestWithIDClonesRatherThanMutates(t *testing.T) {
	env, err := New("X", "m", nil, "s1", "original")
	if err != nil {
		t.Fatal(err)
	}
	renamed, err := env.WithID("cb-1")
	if err != nil {
		t.Fatal(err)
	}
	if env.ID() != "original" {
		t.Fatalf("original envelope mutated: ID() = %q", env.ID())
	}
	if renamed.ID() != "cb-1" {
		t.Fatalf("renamed.ID() = %q, want cb-1", renamed.ID())
	}
}

func TestParseRejectsNonObject(t *testing.T) {
	if _, err := Parse([]byte(`[1,2,3]`)); err == nil {
		t.Fatalf("Parse accepted a non-object payload")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatalf("Parse accepted invalid JSON")
	}
}

func TestSetResultSubstitutesNotSerializableSentinel(t *testing.T) {
	env, err := New("X", "m", nil, "s1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.SetResult(make(chan int)); err != nil {
		t.Fatal(err)
	}
	result, ok := env.Result()
	if !ok || result != NotSerializable {
		t.Fatalf("Result() = %v, %v, want sentinel", result, ok)
	}
}
