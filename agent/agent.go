// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the broker session lifecycle, topic scheme,
// and client/instance tracker around an [adapter.Registry] (§4.3, §4.4).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cybusio/vrpc-go/adapter"
	"github.com/cybusio/vrpc-go/broker"
	"github.com/cybusio/vrpc-go/wire"
)

// agentInfo is the retained document published at
// "{domain}/{agent}/__agentInfo__" (§4.3).
type agentInfo struct {
	Status   string `json:"status"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

// classInfo is the retained document published at
// "{domain}/{agent}/{class}/__classInfo__" (§4.3).
type classInfo struct {
	ClassName       string                         `json:"className"`
	Instances       []string                       `json:"instances"`
	MemberFunctions []string                       `json:"memberFunctions"`
	StaticFunctions []string                       `json:"staticFunctions"`
	Meta            map[string]*adapter.MethodMeta `json:"meta"`
}

// clientInfoPayload is the minimal shape this agent reads off a
// "{clientId}/__clientInfo__" message (§4.4 "Client offline").
type clientInfoPayload struct {
	Status string `json:"status"`
}

// Agent wires a [broker.Broker] connection to an [adapter.Registry],
// implementing the topic scheme and tracker described in §4.3-§4.4. All
// registry and tracker mutation happens on the single goroutine running
// [Agent.Run] (§5).
type Agent struct {
	cfg      Config
	registry *adapter.Registry
	tracker  *clientTracker
	session  *session
	logger   *slog.Logger

	b broker.Broker

	loopEvents chan loopEvent
	ready      chan struct{}

	mu                  sync.Mutex
	subscribedInstances map[string]bool // instanceDispatchFilter topics currently subscribed
}

// loopEvent is one item processed by the single scheduler goroutine (§5):
// either an inbound broker message or a synthetic "deferred result ready"
// callback envelope produced by the adapter's callback sink.
type loopEvent struct {
	broker   *broker.Event
	callback *wire.Envelope
}

// New validates cfg and constructs an Agent bound to registry. It
// performs no network I/O; call [Agent.Run] to connect.
func New(cfg Config, registry *adapter.Registry) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	clientID := deriveClientID(cfg.Domain, cfg.Agent)
	a := &Agent{
		cfg:                 cfg,
		registry:            registry,
		tracker:             newClientTracker(),
		session:             newSession(clientID, cfg.Clock),
		logger:              cfg.Logger,
		loopEvents:          make(chan loopEvent, 256),
		ready:               make(chan struct{}),
		subscribedInstances: make(map[string]bool),
	}
	registry.OnCallback(a.onAdapterCallback)
	return a, nil
}

// ClientID returns the deterministic MQTT clientId this agent connects
// with (§4.3, §9 "Instance identity").
func (a *Agent) ClientID() string { return a.session.clientID }

// Ready returns a channel that closes once the initial connect sequence
// (§4.3 step 2: subscribe, publish online agent-info and class-info) has
// completed. Tests awaiting a deterministic startup point should select
// on this instead of sleeping.
func (a *Agent) Ready() <-chan struct{} { return a.ready }

// onAdapterCallback is installed as the registry's [adapter.CallbackSink].
// It must not block or mutate registry/tracker state directly — it only
// enqueues the envelope as a synthetic loop event, preserving the single-
// writer invariant even though the deferred computation that triggered it
// may complete on an arbitrary goroutine (§5).
func (a *Agent) onAdapterCallback(env *wire.Envelope) {
	a.loopEvents <- loopEvent{callback: env}
}

// Run performs the two-phase connection lifecycle (§4.3) and then drives
// the single-threaded message loop (§5) until ctx is cancelled or End is
// called. It returns once the loop has exited.
func (a *Agent) Run(ctx context.Context) error {
	cleanup := a.cfg.NewBroker()
	if err := a.session.runCleanup(ctx, cleanup); err != nil {
		return fmt.Errorf("agent: session cleanup: %w", err)
	}

	a.b = a.cfg.NewBroker()
	willPayload, err := json.Marshal(agentInfo{Status: "offline", Hostname: hostname(), Version: a.cfg.Version})
	if err != nil {
		return fmt.Errorf("agent: encoding last-will payload: %w", err)
	}
	opts := broker.ConnectOptions{
		WillTopic:   agentInfoTopic(a.cfg.Domain, a.cfg.Agent),
		WillPayload: willPayload,
		WillRetain:  true,
	}
	opts.Username, opts.Password = a.cfg.brokerCredentials()
	if err := a.session.connectOperational(ctx, a.b, opts); err != nil {
		return fmt.Errorf("agent: operational connect: %w", err)
	}
	if err := waitForConnect(ctx, a.b); err != nil {
		return fmt.Errorf("agent: waiting for connect: %w", err)
	}
	if err := a.onConnected(ctx); err != nil {
		return fmt.Errorf("agent: initial connect handling: %w", err)
	}
	close(a.ready)

	go a.pumpBrokerEvents(ctx)
	return a.loop(ctx)
}

// pumpBrokerEvents forwards broker events into loopEvents so [Agent.loop]
// is the sole consumer of both broker and callback events, preserving the
// single-writer invariant (§5).
func (a *Agent) pumpBrokerEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.b.Events():
			if !ok {
				return
			}
			evCopy := ev
			select {
			case a.loopEvents <- loopEvent{broker: &evCopy}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Agent) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-a.loopEvents:
			if item.callback != nil {
				a.publishCallback(ctx, item.callback)
				continue
			}
			if err := a.handleBrokerEvent(ctx, *item.broker); err != nil {
				a.logger.Error("handling broker event failed", "error", err, "kind", item.broker.Kind.String())
			}
			if item.broker.Kind == broker.EventClose {
				return nil
			}
		}
	}
}

func (a *Agent) handleBrokerEvent(ctx context.Context, ev broker.Event) error {
	switch ev.Kind {
	case broker.EventConnect:
		if a.session.onConnectEvent() {
			return nil // already handled synchronously in Run for the first connect
		}
		return a.onReconnected(ctx)
	case broker.EventReconnect:
		a.session.onReconnectEvent()
		a.logger.Warn("broker reconnecting")
		return nil
	case broker.EventOffline:
		a.session.onOfflineEvent()
		a.logger.Warn("broker offline", "error", ev.Err)
		return nil
	case broker.EventError:
		a.logger.Error("broker error", "error", ev.Err)
		return nil
	case broker.EventMessage:
		return a.handleMessage(ctx, ev.Topic, ev.Payload)
	case broker.EventClose:
		a.logger.Info("broker connection closed")
		return nil
	}
	return nil
}

// onConnected performs the first-ever-connect side effects (§4.3 step 2):
// subscribe to all static topics, publish online agent-info, publish
// class-info for every registered class.
func (a *Agent) onConnected(ctx context.Context) error {
	a.session.onConnectEvent()

	for _, className := range a.registry.GetAvailableClasses() {
		if err := a.b.Subscribe(ctx, staticDispatchFilter(a.cfg.Domain, a.cfg.Agent, className), broker.SubscribeOptions{QoS1: a.qos1()}); err != nil {
			return err
		}
		if err := a.publishClassInfo(ctx, className); err != nil {
			return err
		}
	}
	return a.publishAgentInfo(ctx, "online")
}

// onReconnected performs the reconnect-only side effect (§4.3 step 2):
// republish online agent-info. Subscriptions are restored by the broker's
// persistent session.
func (a *Agent) onReconnected(ctx context.Context) error {
	a.logger.Info("reconnected")
	return a.publishAgentInfo(ctx, "online")
}

func (a *Agent) publishAgentInfo(ctx context.Context, status string) error {
	payload, err := json.Marshal(agentInfo{Status: status, Hostname: hostname(), Version: a.cfg.Version})
	if err != nil {
		return fmt.Errorf("encoding agent-info: %w", err)
	}
	return a.b.Publish(ctx, agentInfoTopic(a.cfg.Domain, a.cfg.Agent), payload, broker.PublishOptions{Retain: true, QoS1: a.qos1()})
}

func (a *Agent) publishClassInfo(ctx context.Context, className string) error {
	info := classInfo{
		ClassName:       className,
		Instances:       a.registry.GetAvailableInstances(className),
		MemberFunctions: a.registry.GetAvailableMemberFunctions(className),
		StaticFunctions: a.registry.GetAvailableStaticFunctions(className),
		Meta:            a.registry.GetAvailableMetaData(className),
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding class-info for %s: %w", className, err)
	}
	return a.b.Publish(ctx, classInfoTopic(a.cfg.Domain, a.cfg.Agent, className), payload, broker.PublishOptions{Retain: true, QoS1: a.qos1()})
}

func (a *Agent) qos1() bool { return !a.cfg.BestEffort }

// handleMessage routes one inbound broker message to static dispatch,
// instance dispatch, or client-info handling based on its topic (§4.1,
// §4.3, §4.4).
func (a *Agent) handleMessage(ctx context.Context, topic string, payload []byte) error {
	if clientID, ok := isClientInfoTopic(topic); ok {
		return a.handleClientInfo(ctx, clientID, payload)
	}

	if _, _, ok := parseStaticDispatch(a.cfg.Domain, a.cfg.Agent, topic); ok {
		return a.dispatchAndReply(ctx, payload)
	}

	if _, _, _, ok := parseInstanceDispatch(a.cfg.Domain, a.cfg.Agent, topic); ok {
		return a.dispatchAndReply(ctx, payload)
	}

	a.logger.Debug("ignoring message on unrecognized topic", "topic", topic)
	return nil
}

// dispatchAndReply parses payload into an envelope, dispatches it through
// the registry, applies tracker side effects, and publishes the reply
// (§4.1, §4.4). The envelope's own context/method fields (not the topic)
// drive dispatch, matching the wire protocol's definition of an envelope
// as self-describing (§3); the topic only routed the message here.
func (a *Agent) dispatchAndReply(ctx context.Context, payload []byte) error {
	env, err := wire.Parse(payload)
	if err != nil {
		a.logger.Warn("dropping malformed envelope", "error", err)
		return nil
	}

	clientID := clientIDFromSender(env.Sender())
	outcome := a.registry.Call(env, clientID)

	a.applyTrackerSideEffectsBeforeReply(ctx, clientID, outcome)

	if err := a.publishReply(ctx, env); err != nil {
		return err
	}

	a.applyTrackerSideEffectsAfterReply(ctx, clientID, outcome)
	return nil
}

// applyTrackerSideEffectsBeforeReply runs the tracker bookkeeping that
// must happen before the reply is sent (§4.4 ordering rule): instance
// dispatch subscription on creation, and on deletion, unsubscription,
// removal from every client that holds the instance, plus (for a named
// instance) the class-info republish.
func (a *Agent) applyTrackerSideEffectsBeforeReply(ctx context.Context, clientID string, outcome adapter.Outcome) {
	if outcome.Failed {
		return
	}

	if outcome.Deleted {
		a.unsubscribeInstance(ctx, outcome.ClassName, outcome.InstanceID)
		for {
			owner, _, tracked := a.tracker.findOwner(outcome.InstanceID)
			if !tracked {
				break
			}
			if a.tracker.removeInstance(owner, outcome.InstanceID) {
				a.unsubscribeClientInfo(ctx, owner)
			}
		}
		if outcome.Named {
			_ = a.publishClassInfo(ctx, outcome.ClassName)
		}
		return
	}

	if outcome.Created || outcome.Named {
		a.subscribeInstance(ctx, outcome.ClassName, outcome.InstanceID)
	}
}

// applyTrackerSideEffectsAfterReply runs the tracker bookkeeping ordered
// after the reply (§4.4 ordering rule): client-map registration (so a
// late client-info subscriber sees a consistent picture only once the
// owning client already has its reply) and, for __createNamed__, the
// class-info republish.
func (a *Agent) applyTrackerSideEffectsAfterReply(ctx context.Context, clientID string, outcome adapter.Outcome) {
	if outcome.Failed || outcome.Deleted {
		return
	}

	var newClient bool
	if outcome.Named {
		newClient = a.tracker.addNamed(clientID, outcome.InstanceID)
	} else if outcome.Created {
		newClient = a.tracker.addAnonymous(clientID, outcome.InstanceID)
	} else {
		return
	}
	if newClient {
		a.subscribeClientInfo(ctx, clientID)
	}
	if outcome.Created && outcome.Named {
		_ = a.publishClassInfo(ctx, outcome.ClassName)
	}
}

func (a *Agent) subscribeInstance(ctx context.Context, className, instanceID string) {
	filter := instanceDispatchFilter(a.cfg.Domain, a.cfg.Agent, className, instanceID)
	a.mu.Lock()
	already := a.subscribedInstances[filter]
	a.subscribedInstances[filter] = true
	a.mu.Unlock()
	if already {
		return
	}
	if err := a.b.Subscribe(ctx, filter, broker.SubscribeOptions{QoS1: a.qos1()}); err != nil {
		a.logger.Error("subscribing to instance dispatch failed", "filter", filter, "error", err)
	}
}

func (a *Agent) unsubscribeInstance(ctx context.Context, className, instanceID string) {
	filter := instanceDispatchFilter(a.cfg.Domain, a.cfg.Agent, className, instanceID)
	a.mu.Lock()
	delete(a.subscribedInstances, filter)
	a.mu.Unlock()
	if err := a.b.Unsubscribe(ctx, filter); err != nil {
		a.logger.Error("unsubscribing from instance dispatch failed", "filter", filter, "error", err)
	}
}

func (a *Agent) subscribeClientInfo(ctx context.Context, clientID string) {
	if err := a.b.Subscribe(ctx, clientInfoTopic(clientID), broker.SubscribeOptions{QoS1: a.qos1()}); err != nil {
		a.logger.Error("subscribing to client-info failed", "clientId", clientID, "error", err)
	}
}

func (a *Agent) unsubscribeClientInfo(ctx context.Context, clientID string) {
	if err := a.b.Unsubscribe(ctx, clientInfoTopic(clientID)); err != nil {
		a.logger.Error("unsubscribing from client-info failed", "clientId", clientID, "error", err)
	}
}

// handleClientInfo implements §4.4 "Client offline": when status goes
// offline, synthesize __delete__ for every anonymous instance the client
// owned, drop its event listeners everywhere, and release the
// subscription.
func (a *Agent) handleClientInfo(ctx context.Context, clientID string, payload []byte) error {
	var info clientInfoPayload
	if err := json.Unmarshal(payload, &info); err != nil {
		return fmt.Errorf("decoding client-info for %s: %w", clientID, err)
	}
	if info.Status != "offline" {
		return nil
	}

	for _, instanceID := range a.tracker.anonymousInstancesOf(clientID) {
		env, err := wire.New(instanceID, wire.MethodDelete, []wire.Value{instanceID}, "", "")
		if err != nil {
			a.logger.Error("building synthetic delete envelope failed", "instance", instanceID, "error", err)
			continue
		}
		outcome := a.registry.Call(env, clientID)
		if outcome.Deleted {
			a.unsubscribeInstance(ctx, outcome.ClassName, outcome.InstanceID)
		}
		if result, ok := env.Result(); ok {
			a.logger.Info("synthesized delete for offline client's instance", "clientId", clientID, "instance", instanceID, "result", result)
		} else if msg, ok := env.Err(); ok {
			a.logger.Warn("synthesized delete failed", "clientId", clientID, "instance", instanceID, "error", msg)
		}
	}

	a.registry.UnregisterEventListeners(clientID)
	a.tracker.forgetClient(clientID)
	a.unsubscribeClientInfo(ctx, clientID)
	return nil
}

// publishCallback emits a callback or promise-resolution envelope from
// the adapter's sink onto its target sender topic (§4.1 step 3-4).
func (a *Agent) publishCallback(ctx context.Context, env *wire.Envelope) {
	sender := env.Sender()
	if sender == "" {
		a.logger.Warn("dropping callback envelope with no sender")
		return
	}
	if err := a.b.Publish(ctx, sender, env.Raw(), broker.PublishOptions{QoS1: a.qos1()}); err != nil {
		a.logger.Error("publishing callback envelope failed", "sender", sender, "error", err)
	}
}

// publishReply publishes the mutated envelope verbatim to its sender
// topic (§4.1 "propagation policy": exactly one reply per well-formed
// message).
func (a *Agent) publishReply(ctx context.Context, env *wire.Envelope) error {
	sender := env.Sender()
	if sender == "" {
		return nil
	}
	return a.b.Publish(ctx, sender, env.Raw(), broker.PublishOptions{QoS1: a.qos1()})
}

// End implements the shutdown sequence in §4.3: publish offline
// agent-info, optionally clear all retained metadata, close the
// connection, and perform a final clean-session connect to discard
// server-side durable state.
func (a *Agent) End(ctx context.Context, unregister bool) error {
	if err := a.publishAgentInfo(ctx, "offline"); err != nil {
		a.logger.Error("publishing offline agent-info failed", "error", err)
	}
	if unregister {
		for _, className := range a.registry.GetAvailableClasses() {
			_ = a.b.Publish(ctx, classInfoTopic(a.cfg.Domain, a.cfg.Agent, className), nil, broker.PublishOptions{Retain: true})
		}
		_ = a.b.Publish(ctx, agentInfoTopic(a.cfg.Domain, a.cfg.Agent), nil, broker.PublishOptions{Retain: true})
	}
	if err := a.b.End(ctx); err != nil {
		a.logger.Error("closing broker connection failed", "error", err)
	}

	discard := a.cfg.NewBroker()
	if err := discard.Connect(ctx, broker.ConnectOptions{ClientID: a.session.clientID, CleanSession: true}); err != nil {
		return fmt.Errorf("agent: final clean-session connect: %w", err)
	}
	return discard.End(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
