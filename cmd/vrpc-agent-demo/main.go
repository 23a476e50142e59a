// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command vrpc-agent-demo registers a small example class and serves it
// over a real MQTT broker, demonstrating how a host process wires
// [adapter.NativeClass], [agent.Config], and [broker/mqtt] together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cybusio/vrpc-go/adapter"
	"github.com/cybusio/vrpc-go/agent"
	"github.com/cybusio/vrpc-go/broker"
	"github.com/cybusio/vrpc-go/broker/mqtt"
	"github.com/cybusio/vrpc-go/wire"
)

func main() {
	var (
		brokerURL  = flag.String("broker", "mqtts://vrpc.io:8883", "MQTT broker URL")
		domain     = flag.String("domain", "public.vrpc", "VRPC domain")
		agentName  = flag.String("agent", "demo-agent", "agent name")
		bestEffort = flag.Bool("best-effort", false, "downgrade every publish to QoS 0")
	)
	flag.Parse()

	logger := slog.Default()

	registry := adapter.New(*agentName)
	registry.Register(counterClass())

	cfg := agent.Config{
		Domain:     *domain,
		Agent:      *agentName,
		BrokerURL:  *brokerURL,
		BestEffort: *bestEffort,
		Version:    "0.1.0",
		Logger:     logger,
		NewBroker:  func() broker.Broker { return mqtt.New(*brokerURL) },
	}

	a, err := agent.New(cfg, registry)
	if err != nil {
		logger.Error("invalid agent configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting agent", "clientId", a.ClientID(), "domain", *domain, "agent", *agentName)
	if err := a.Run(ctx); err != nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.End(shutdownCtx, true); err != nil {
		logger.Error("agent shutdown failed", "error", err)
		os.Exit(1)
	}
}

// counterClass is a trivial demonstration class: each instance owns a
// mutex-guarded counter with increment and current-value methods, and a
// static method reporting how many instances have been constructed;
// deleting an instance does not lower that count.
func counterClass() *adapter.NativeClass {
	var (
		mu    sync.Mutex
		count int
	)

	return adapter.NewNativeClass("Counter", func(args []wire.Value) (any, error) {
		start := 0
		if len(args) > 0 {
			n, ok := args[0].(float64)
			if !ok {
				return nil, fmt.Errorf("Counter constructor expects a numeric start value")
			}
			start = int(n)
		}
		mu.Lock()
		count++
		mu.Unlock()
		return &counter{value: start}, nil
	}).
		Member("increment", func(instance any, args []wire.Value) (wire.Value, error) {
			c := instance.(*counter)
			step := 1
			if len(args) > 0 {
				n, ok := args[0].(float64)
				if !ok {
					return nil, fmt.Errorf("increment expects a numeric step")
				}
				step = int(n)
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			c.value += step
			return c.value, nil
		}, &adapter.MethodMeta{
			Description: "Increments the counter by step (default 1) and returns the new value.",
			ParamNames:  []string{"step"},
			ParamTypes:  []string{"number"},
			ReturnType:  "number",
		}).
		Member("value", func(instance any, args []wire.Value) (wire.Value, error) {
			c := instance.(*counter)
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.value, nil
		}, nil).
		Static("instanceCount", func(instance any, args []wire.Value) (wire.Value, error) {
			mu.Lock()
			defer mu.Unlock()
			return count, nil
		}, nil)
}

type counter struct {
	mu    sync.Mutex
	value int
}
