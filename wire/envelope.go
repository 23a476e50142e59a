// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Value is a VRPC wire value: null, bool, number, string, array, or nested
// dictionary. Go's encoding/json already gives every such value a natural
// representation (nil, bool, float64, string, []any, map[string]any), so
// Value is simply an alias rather than a wrapper type.
type Value = any

// Reserved lifecycle method names (§3, §6.3).
const (
	MethodCreate      = "__create__"
	MethodCreateNamed = "__createNamed__"
	MethodGetNamed    = "__getNamed__"
	MethodDelete      = "__delete__"
	MethodCallAll     = "__callAll__"
)

// NotSerializable is the sentinel substituted for data.r when the return
// value produced by a dispatch cannot be serialized to the wire format.
const NotSerializable = "__vrpc::not-serializable__"

const (
	callbackPrefix = "__f__"
	promisePrefix  = "__p__"
)

// CallbackTag builds the reserved placeholder string for callback id.
func CallbackTag(id string) string { return callbackPrefix + id }

// PromiseTag builds the reserved placeholder string for promise id.
func PromiseTag(id string) string { return promisePrefix + id }

// IsCallbackTag reports whether s is a "__f__<id>" placeholder and, if so,
// returns the id.
func IsCallbackTag(s string) (id string, ok bool) {
	return cutPrefix(s, callbackPrefix)
}

// IsPromiseTag reports whether s is a "__p__<id>" placeholder and, if so,
// returns the id.
func IsPromiseTag(s string) (id string, ok bool) {
	return cutPrefix(s, promisePrefix)
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return strings.TrimPrefix(s, prefix), true
}

// Envelope is one RPC message, in either direction (§3). An Envelope
// retains the raw bytes it was parsed from; mutation methods rewrite those
// bytes in place (via sjson) rather than re-marshaling a struct, so keys
// this package does not interpret survive untouched.
type Envelope struct {
	raw []byte
}

// Parse decodes raw into an Envelope. Parse does not fully unmarshal
// data's values — arguments are read lazily by Args so that unknown
// value shapes (nested dictionaries, arrays) pass through untouched.
func Parse(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("wire: invalid envelope: not valid JSON")
	}
	result := gjson.ParseBytes(raw)
	if !result.IsObject() {
		return nil, fmt.Errorf("wire: invalid envelope: not a JSON object")
	}
	return &Envelope{raw: append([]byte(nil), raw...)}, nil
}

// New builds a fresh Envelope from its fields. args are assigned to the
// positional keys data._1, data._2, … in order.
func New(context, method string, args []Value, sender, id string) (*Envelope, error) {
	data := make(map[string]Value, len(args))
	for i, arg := range args {
		data[fmt.Sprintf("_%d", i+1)] = arg
	}
	doc := map[string]Value{
		"context": context,
		"method":  method,
		"data":    data,
	}
	if sender != "" {
		doc["sender"] = sender
	}
	if id != "" {
		doc["id"] = id
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("wire: building envelope: %w", err)
	}
	return &Envelope{raw: raw}, nil
}

// Raw returns the current wire bytes, reflecting any mutation applied so
// far. The caller must not retain or mutate the returned slice.
func (e *Envelope) Raw() []byte { return e.raw }

func (e *Envelope) get(path string) gjson.Result {
	return gjson.GetBytes(e.raw, path)
}

// Context returns the envelope's context field (a class name or instance
// identifier).
func (e *Envelope) Context() string { return e.get("context").String() }

// Method returns the envelope's method field.
func (e *Envelope) Method() string { return e.get("method").String() }

// Sender returns the reply topic chosen by the caller.
func (e *Envelope) Sender() string { return e.get("sender").String() }

// ID returns the caller-chosen correlation identifier.
func (e *Envelope) ID() string { return e.get("id").String() }

// argKeyIndex parses "_<n>" into n, or returns ok=false.
func argKeyIndex(key string) (int, bool) {
	if len(key) < 2 || key[0] != '_' {
		return 0, false
	}
	n, err := strconv.Atoi(key[1:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Args returns the envelope's positional arguments in order (_1, _2, …),
// decoded into Go values. Missing indices in a sparse key set are skipped.
func (e *Envelope) Args() []Value {
	data := e.get("data")
	if !data.IsObject() {
		return nil
	}
	type indexed struct {
		index int
		value Value
	}
	var args []indexed
	data.ForEach(func(key, val gjson.Result) bool {
		if idx, ok := argKeyIndex(key.String()); ok {
			args = append(args, indexed{idx, val.Value()})
		}
		return true
	})
	sort.Slice(args, func(i, j int) bool { return args[i].index < args[j].index })
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = a.value
	}
	return out
}

// Result returns data.r and whether it was present.
func (e *Envelope) Result() (Value, bool) {
	r := e.get("data.r")
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// Err returns data.e and whether it was present.
func (e *Envelope) Err() (string, bool) {
	r := e.get("data.e")
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// SetResult sets data.r to the JSON encoding of v and clears data.e, so an
// envelope never carries both (§8 invariant). If v cannot be marshaled,
// data.r is set to [NotSerializable] instead so the caller is always
// answered (§4.1 failure semantics).
func (e *Envelope) SetResult(v Value) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		encoded, _ = json.Marshal(NotSerializable)
	}
	raw, err := sjson.SetRawBytes(e.raw, "data.r", encoded)
	if err != nil {
		return fmt.Errorf("wire: setting data.r: %w", err)
	}
	raw, err = sjson.DeleteBytes(raw, "data.e")
	if err != nil {
		return fmt.Errorf("wire: clearing data.e: %w", err)
	}
	e.raw = raw
	return nil
}

// SetError sets data.e to message and clears data.r.
func (e *Envelope) SetError(message string) error {
	raw, err := sjson.SetBytes(e.raw, "data.e", message)
	if err != nil {
		return fmt.Errorf("wire: setting data.e: %w", err)
	}
	raw, err = sjson.DeleteBytes(raw, "data.r")
	if err != nil {
		return fmt.Errorf("wire: clearing data.r: %w", err)
	}
	e.raw = raw
	return nil
}

// SetArg rewrites the i'th (1-based) positional argument in place. Used to
// reflect mutated out-parameters after dispatch (§3).
func (e *Envelope) SetArg(i int, v Value) error {
	raw, err := sjson.SetBytes(e.raw, fmt.Sprintf("data._%d", i), v)
	if err != nil {
		return fmt.Errorf("wire: setting data._%d: %w", i, err)
	}
	e.raw = raw
	return nil
}

// Clone returns an independent copy of the envelope. Useful when a
// dispatch needs to hand out a fresh correlation id while keeping the
// original (e.g. synthesizing a callback envelope from a placeholder).
func (e *Envelope) Clone() *Envelope {
	return &Envelope{raw: append([]byte(nil), e.raw...)}
}

// WithID returns a clone of the envelope with id replaced; the receiver is
// left unchanged.
func (e *Envelope) WithID(id string) (*Envelope, error) {
	raw, err := sjson.SetBytes(e.raw, "id", id)
	if err != nil {
		return nil, fmt.Errorf("wire: setting id: %w", err)
	}
	return &Envelope{raw: raw}, nil
}
