// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements [broker.Broker] over the standard ecosystem MQTT
// client, translating its callback-based API into the channel-based event
// stream the agent session consumes.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/cybusio/vrpc-go/broker"
)

const defaultOpTimeout = 10 * time.Second

// opTimeout returns the time remaining on ctx's deadline, or a default
// budget if ctx carries none.
func opTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
		return 0
	}
	return defaultOpTimeout
}

// Client wraps a paho.mqtt.golang client as a [broker.Broker].
type Client struct {
	brokerURL string
	client    paho.Client
	events    chan broker.Event
	ended     bool
}

// New creates a Client that will connect to brokerURL (e.g.
// "mqtts://vrpc.io:8883") when Connect is called.
func New(brokerURL string) *Client {
	return &Client{
		brokerURL: brokerURL,
		events:    make(chan broker.Event, 64),
	}
}

var _ broker.Broker = (*Client)(nil)

func (c *Client) Connect(ctx context.Context, opts broker.ConnectOptions) error {
	options := paho.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(opts.CleanSession).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if opts.Username != "" {
		options.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		options.SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		options.SetBinaryWill(opts.WillTopic, opts.WillPayload, 1, opts.WillRetain)
	}

	options.SetOnConnectHandler(func(paho.Client) {
		c.send(broker.Event{Kind: broker.EventConnect})
	})
	options.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.send(broker.Event{Kind: broker.EventReconnect})
	})
	options.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.send(broker.Event{Kind: broker.EventOffline, Err: err})
	})

	c.client = paho.NewClient(options)
	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout(ctx)) {
		return &broker.ConnectError{Broker: c.brokerURL, Err: fmt.Errorf("timed out")}
	}
	if err := token.Error(); err != nil {
		return &broker.ConnectError{Broker: c.brokerURL, Err: err}
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte, opts broker.PublishOptions) error {
	qos := byte(0)
	if opts.QoS1 {
		qos = 1
	}
	token := c.client.Publish(topic, qos, opts.Retain, payload)
	if !token.WaitTimeout(opTimeout(ctx)) {
		return fmt.Errorf("broker: publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topic string, opts broker.SubscribeOptions) error {
	qos := byte(0)
	if opts.QoS1 {
		qos = 1
	}
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		c.send(broker.Event{
			Kind:     broker.EventMessage,
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			Retained: msg.Retained(),
		})
	})
	if !token.WaitTimeout(opTimeout(ctx)) {
		return fmt.Errorf("broker: subscribe to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: subscribe to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(opTimeout(ctx)) {
		return fmt.Errorf("broker: unsubscribe from %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: unsubscribe from %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Events() <-chan broker.Event { return c.events }

func (c *Client) End(ctx context.Context) error {
	if c.ended {
		return nil
	}
	c.ended = true
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.send(broker.Event{Kind: broker.EventClose})
	close(c.events)
	return nil
}

func (c *Client) send(ev broker.Event) {
	defer func() { _ = recover() }()
	c.events <- ev
}
