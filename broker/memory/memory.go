// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-process [broker.Broker] double for tests:
// no network I/O, deterministic delivery, full MQTT wildcard topic
// matching and retained-message semantics. It is grounded on the same
// shape as a mutex-guarded in-memory signaling store — several clients
// share one *Bus, and publishing from one is delivered synchronously to
// every subscriber whose filter matches, the publishing client included.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/cybusio/vrpc-go/broker"
)

// retainedMessage holds one topic's last retained publish.
type retainedMessage struct {
	payload []byte
}

// Bus is the shared in-memory broker state multiple [Client] values
// connect to, modeling the single real broker a set of MQTT clients would
// otherwise share.
type Bus struct {
	mu       sync.Mutex
	retained map[string]retainedMessage
	clients  map[string]*Client // by ClientID, for last-will delivery and session takeover
}

// NewBus creates an empty shared broker.
func NewBus() *Bus {
	return &Bus{
		retained: make(map[string]retainedMessage),
		clients:  make(map[string]*Client),
	}
}

type subscription struct {
	filter string
}

// Client is one logical connection to a [Bus]. It implements
// [broker.Broker].
type Client struct {
	bus *Bus

	mu            sync.Mutex
	clientID      string
	subscriptions []subscription
	events        chan broker.Event
	will          *willConfig
	connected     bool
	ended         bool
}

type willConfig struct {
	topic   string
	payload []byte
	retain  bool
}

// NewClient creates a Client bound to bus. Connect must be called before
// Publish/Subscribe.
func NewClient(bus *Bus) *Client {
	return &Client{
		bus:    bus,
		events: make(chan broker.Event, 64),
	}
}

var _ broker.Broker = (*Client)(nil)

func (c *Client) Connect(_ context.Context, opts broker.ConnectOptions) error {
	c.mu.Lock()
	c.clientID = opts.ClientID
	c.connected = true
	if opts.WillTopic != "" {
		c.will = &willConfig{topic: opts.WillTopic, payload: opts.WillPayload, retain: opts.WillRetain}
	} else {
		c.will = nil
	}
	c.mu.Unlock()

	c.bus.mu.Lock()
	if opts.CleanSession {
		delete(c.bus.clients, opts.ClientID)
	}
	c.bus.clients[opts.ClientID] = c
	c.bus.mu.Unlock()

	c.deliver(broker.Event{Kind: broker.EventConnect})
	return nil
}

func (c *Client) Publish(_ context.Context, topic string, payload []byte, opts broker.PublishOptions) error {
	c.bus.mu.Lock()
	if opts.Retain {
		if len(payload) == 0 {
			delete(c.bus.retained, topic)
		} else {
			c.bus.retained[topic] = retainedMessage{payload: append([]byte(nil), payload...)}
		}
	}
	targets := make([]*Client, 0, len(c.bus.clients))
	for _, other := range c.bus.clients {
		targets = append(targets, other)
	}
	c.bus.mu.Unlock()

	for _, target := range targets {
		target.deliverIfMatched(topic, payload, false)
	}
	return nil
}

func (c *Client) Subscribe(_ context.Context, topic string, _ broker.SubscribeOptions) error {
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, subscription{filter: topic})
	c.mu.Unlock()

	c.bus.mu.Lock()
	var matches []struct {
		topic   string
		payload []byte
	}
	for retainedTopic, msg := range c.bus.retained {
		if topicMatches(topic, retainedTopic) {
			matches = append(matches, struct {
				topic   string
				payload []byte
			}{retainedTopic, msg.payload})
		}
	}
	c.bus.mu.Unlock()

	for _, m := range matches {
		c.deliver(broker.Event{Kind: broker.EventMessage, Topic: m.topic, Payload: m.payload, Retained: true})
	}
	return nil
}

func (c *Client) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.subscriptions[:0:0]
	for _, s := range c.subscriptions {
		if s.filter != topic {
			out = append(out, s)
		}
	}
	c.subscriptions = out
	return nil
}

func (c *Client) Events() <-chan broker.Event { return c.events }

// End closes the connection. If a last-will was configured at Connect, End
// delivers it to the other clients (and stores it when it is retained and
// non-empty): this double has no clean disconnect, so every End counts as
// an unclean one.
func (c *Client) End(_ context.Context) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	will := c.will
	clientID := c.clientID
	c.connected = false
	c.mu.Unlock()

	if will != nil {
		c.bus.mu.Lock()
		others := make([]*Client, 0, len(c.bus.clients))
		for id, other := range c.bus.clients {
			if id != clientID {
				others = append(others, other)
			}
		}
		if len(will.payload) > 0 && will.retain {
			c.bus.retained[will.topic] = retainedMessage{payload: append([]byte(nil), will.payload...)}
		}
		c.bus.mu.Unlock()
		for _, other := range others {
			other.deliverIfMatched(will.topic, will.payload, false)
		}
	}

	c.bus.mu.Lock()
	if c.bus.clients[clientID] == c {
		delete(c.bus.clients, clientID)
	}
	c.bus.mu.Unlock()

	c.deliver(broker.Event{Kind: broker.EventClose})
	close(c.events)
	return nil
}

func (c *Client) deliverIfMatched(topic string, payload []byte, retained bool) {
	c.mu.Lock()
	filters := make([]string, len(c.subscriptions))
	for i, s := range c.subscriptions {
		filters[i] = s.filter
	}
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return
	}
	for _, filter := range filters {
		if topicMatches(filter, topic) {
			c.deliver(broker.Event{Kind: broker.EventMessage, Topic: topic, Payload: payload, Retained: retained})
			return
		}
	}
}

func (c *Client) deliver(ev broker.Event) {
	defer func() { _ = recover() }() // send on a closed channel after End races with in-flight delivery
	c.events <- ev
}

// topicMatches reports whether filter (which may use MQTT wildcards +
// and #) matches topic, per the standard MQTT matching rules: + matches
// exactly one level, # matches zero or more trailing levels and must be
// the filter's final token.
func topicMatches(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, f := range filterLevels {
		if f == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if f == "+" {
			continue
		}
		if f != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
