// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/base32"
	"strings"

	"github.com/zeebo/blake3"
)

// clientIDDomainKey separates the broker clientId hash domain from any
// other BLAKE3 keyed use in this module, the way the teacher's artifact
// package separates its chunk/container/file hash domains.
var clientIDDomainKey = [32]byte{
	'v', 'r', 'p', 'c', '.', 'a', 'g', 'e', 'n', 't', '.',
	'c', 'l', 'i', 'e', 'n', 't', '-', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// clientIDByteLength is the number of leading hash bytes kept before
// base32-encoding; 20 bytes gives a 32-character encoded suffix, ample
// for cross-agent uniqueness without an unwieldy clientId string.
const clientIDByteLength = 20

const clientIDPrefix = "vrpca"

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// deriveClientID computes the deterministic MQTT clientId for this
// agent's own broker connection, so that a crash-and-restart reconnects
// to the same durable session (§4.3 "Connection lifecycle", §9 "Instance
// identity").
func deriveClientID(domain, agentName string) string {
	hasher, err := blake3.NewKeyed(clientIDDomainKey[:])
	if err != nil {
		panic("agent: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(domain))
	hasher.Write([]byte{0})
	hasher.Write([]byte(agentName))
	digest := hasher.Sum(nil)[:clientIDByteLength]
	return clientIDPrefix + strings.ToLower(base32Encoding.EncodeToString(digest))
}
