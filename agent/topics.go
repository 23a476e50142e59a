// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "strings"

// Topic builders implementing the bit-exact scheme in §4.3. Every
// function here is a pure string composition with no broker dependency,
// so the scheme itself can be unit-tested without a connection.

func agentInfoTopic(domain, agentName string) string {
	return domain + "/" + agentName + "/__agentInfo__"
}

func classInfoTopic(domain, agentName, className string) string {
	return domain + "/" + agentName + "/" + className + "/__classInfo__"
}

func staticDispatchFilter(domain, agentName, className string) string {
	return domain + "/" + agentName + "/" + className + "/__static__/+"
}

func staticDispatchTopic(domain, agentName, className, method string) string {
	return domain + "/" + agentName + "/" + className + "/__static__/" + method
}

func instanceDispatchFilter(domain, agentName, className, instanceID string) string {
	return domain + "/" + agentName + "/" + className + "/" + instanceID + "/+"
}

// instanceDispatchTopic builds one concrete topic under an instance's
// dispatch filter, for a caller publishing a single method call.
func instanceDispatchTopic(domain, agentName, className, instanceID, method string) string {
	return domain + "/" + agentName + "/" + className + "/" + instanceID + "/" + method
}

func clientInfoTopic(clientID string) string {
	return clientID + "/__clientInfo__"
}

// parseStaticDispatch extracts (className, method) from a topic matching
// "{domain}/{agent}/{class}/__static__/{method}", or ok=false if topic
// does not fit that shape.
func parseStaticDispatch(domain, agentName, topic string) (className, method string, ok bool) {
	prefix := domain + "/" + agentName + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "__static__" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// parseInstanceDispatch extracts (className, instanceID, method) from a
// topic matching "{domain}/{agent}/{class}/{instance}/{method}".
func parseInstanceDispatch(domain, agentName, topic string) (className, instanceID, method string, ok bool) {
	prefix := domain + "/" + agentName + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] == "__static__" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// isClientInfoTopic reports whether topic is a "{clientId}/__clientInfo__"
// topic and, if so, returns clientId.
func isClientInfoTopic(topic string) (clientID string, ok bool) {
	const suffix = "/__clientInfo__"
	if !strings.HasSuffix(topic, suffix) {
		return "", false
	}
	return strings.TrimSuffix(topic, suffix), true
}

// clientIDFromSender derives the owning clientId from a call's sender
// topic (§4.3 "sender-derived clientId"). The client-info topic
// "{clientId}/__clientInfo__" roots each client's namespace at its
// clientId, so a caller's reply topic — which lives under that same
// namespace — always has clientId as its first path segment.
func clientIDFromSender(sender string) string {
	if idx := strings.IndexByte(sender, '/'); idx >= 0 {
		return sender[:idx]
	}
	return sender
}
