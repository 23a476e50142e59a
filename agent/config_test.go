// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"testing"

	"github.com/cybusio/vrpc-go/broker"
	"github.com/cybusio/vrpc-go/broker/memory"
)

func validConfig() Config {
	bus := memory.NewBus()
	return Config{
		Domain:    "factory1",
		Agent:     "conveyor",
		NewBroker: func() broker.Broker { return memory.NewClient(bus) },
	}
}

func TestConfigValidateRejectsEmptyDomain(t *testing.T) {
	cfg := validConfig()
	cfg.Domain = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty domain")
	}
}

func TestConfigValidateRejectsEmptyAgent(t *testing.T) {
	cfg := validConfig()
	cfg.Agent = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty agent")
	}
}

func TestConfigValidateRejectsReservedChars(t *testing.T) {
	for _, bad := range []string{"a+b", "a/b", "a#b", "a*b"} {
		cfg := validConfig()
		cfg.Domain = bad
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected error for domain %q", bad)
		}
	}
}

func TestConfigValidateRejectsNilBroker(t *testing.T) {
	cfg := validConfig()
	cfg.NewBroker = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for nil NewBroker")
	}
}

func TestConfigValidateAccepts(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejectsTokenWithUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Token = "secret"
	cfg.Username = "alice"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for Token combined with Username")
	}
}

func TestConfigBrokerCredentialsPrefersToken(t *testing.T) {
	cfg := validConfig()
	cfg.Token = "secret"
	username, password := cfg.brokerCredentials()
	if username != tokenUsername || password != "secret" {
		t.Fatalf("expected token-auth credentials, got username=%q password=%q", username, password)
	}
}

func TestConfigBrokerCredentialsFallsBackToUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Username = "alice"
	cfg.Password = "hunter2"
	username, password := cfg.brokerCredentials()
	if username != "alice" || password != "hunter2" {
		t.Fatalf("expected username/password credentials, got username=%q password=%q", username, password)
	}
}

func TestWithDefaultsFillsBrokerURL(t *testing.T) {
	cfg := validConfig().withDefaults()
	if cfg.BrokerURL != defaultBrokerURL {
		t.Fatalf("expected default broker URL, got %s", cfg.BrokerURL)
	}
	if cfg.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if cfg.Clock == nil {
		t.Fatalf("expected default clock")
	}
}
