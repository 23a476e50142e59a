// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cybusio/vrpc-go/broker"
	"github.com/cybusio/vrpc-go/clock"
)

// reservedTopicChars are the MQTT topic-level characters that cannot
// appear in a domain or agent name, since both are embedded as plain
// topic levels in every topic this package builds (§4.3, §6.4).
const reservedTopicChars = "+/#*"

// Config is the agent session's exposed configuration surface (§6.4).
type Config struct {
	// Domain and Agent identify this agent on the broker; together they
	// form the first two levels of every topic it publishes or subscribes
	// to (§4.3).
	Domain string
	Agent  string

	// BrokerURL records the MQTT broker URL. Defaults to
	// "mqtts://vrpc.io:8883" if empty. The agent does not read it when
	// connecting: every connection comes from NewBroker, which chooses its
	// own broker.
	BrokerURL string

	// Username and Password authenticate the broker connection, if the
	// broker requires username/password auth. Mutually exclusive with
	// Token (§4.3, §6.4 "one of {username,password} or token").
	Username string
	Password string

	// Token authenticates the broker connection using the vrpc.io
	// token-auth convention: the broker sees username "__token__" and
	// password set to Token (§4.3, §6.4). Mutually exclusive with
	// Username/Password.
	Token string

	// BestEffort downgrades every publish from QoS 1 to QoS 0 (§5 "QoS
	// defaults").
	BestEffort bool

	// Version is reported in the agent's retained agent-info document.
	Version string

	// Logger receives structured session/dispatch logs. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger

	// Clock is injected so the backoff between operational connect
	// attempts can be driven deterministically in tests. Defaults to
	// clock.Real() if nil.
	Clock clock.Clock

	// NewBroker constructs one fresh, as-yet-unconnected [broker.Broker]
	// connection. The session lifecycle (§4.3) needs two independent
	// connections under the same clientId — a throwaway clean-session
	// cleanup connect and the persistent operational connect — so this is
	// a factory rather than a single connection value. Required.
	NewBroker func() broker.Broker
}

// defaultBrokerURL is used when Config.BrokerURL is empty (§6.4).
const defaultBrokerURL = "mqtts://vrpc.io:8883"

// ConfigError reports a rejected [Config] (§7 kind 6).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("agent: invalid config field %s: %s", e.Field, e.Reason)
}

// Validate rejects a malformed Config before any network I/O (§6.4,
// §7 kind 6). It does not mutate c; callers should apply defaults via
// [Config.withDefaults] after a successful Validate.
func (c Config) Validate() error {
	if c.Domain == "" {
		return &ConfigError{Field: "Domain", Reason: "must not be empty"}
	}
	if c.Agent == "" {
		return &ConfigError{Field: "Agent", Reason: "must not be empty"}
	}
	if strings.ContainsAny(c.Domain, reservedTopicChars) {
		return &ConfigError{Field: "Domain", Reason: fmt.Sprintf("must not contain any of %q", reservedTopicChars)}
	}
	if strings.ContainsAny(c.Agent, reservedTopicChars) {
		return &ConfigError{Field: "Agent", Reason: fmt.Sprintf("must not contain any of %q", reservedTopicChars)}
	}
	if c.NewBroker == nil {
		return &ConfigError{Field: "NewBroker", Reason: "must not be nil"}
	}
	if c.Token != "" && (c.Username != "" || c.Password != "") {
		return &ConfigError{Field: "Token", Reason: "must not be set together with Username/Password; use one of {username,password} or token"}
	}
	return nil
}

// tokenUsername is the fixed username the vrpc.io broker expects
// alongside a bearer Token in place of Username/Password (§4.3, §6.4).
const tokenUsername = "__token__"

// brokerCredentials returns the (username, password) pair to present to
// Connect, translating Token into the broker's token-auth convention.
func (c Config) brokerCredentials() (username, password string) {
	if c.Token != "" {
		return tokenUsername, c.Token
	}
	return c.Username, c.Password
}

// withDefaults returns a copy of c with unset optional fields filled in.
func (c Config) withDefaults() Config {
	if c.BrokerURL == "" {
		c.BrokerURL = defaultBrokerURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}
