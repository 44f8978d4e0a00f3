// Package nats implements the broker port using NATS core and JetStream.
//
// Core pub/sub carries lifecycle events, heartbeats and broadcasts where
// at-most-once delivery is acceptable. JetStream backs the durable stream
// used for task dispatch and directed agent messages, with explicit ack
// and redelivery on handler failure.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/meshworks/agentmesh/internal/port/broker"
)

const streamName = "AGENTMESH"

// ackWait is how long a consumed message may stay unacknowledged before it
// redelivers. Inbox consumers hold the ack open for the whole task
// execution, so this must exceed the longest task timeout.
const ackWait = 15 * time.Minute

// Broker implements broker.Broker using NATS.
type Broker struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *slog.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Broker, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// The durable stream carries only subjects that need at-least-once
	// delivery. Heartbeats and events stay on core NATS.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: streamName,
		Subjects: []string{
			broker.SubjectAgentInbox + ".>",
			broker.SubjectMeshMessage + ".>",
			broker.SubjectTaskResults,
		},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Broker{nc: nc, js: js, log: log}, nil
}

// Publish sends a message to the given subject over core NATS.
func (b *Broker) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for core NATS messages on the given subject.
func (b *Broker) Subscribe(ctx context.Context, subject string, handler broker.Handler) (func(), error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			b.log.Error("message handler failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Error("nats unsubscribe failed", "subject", subject, "error", err)
		}
	}, nil
}

// Append persists a message to the durable stream.
func (b *Broker) Append(ctx context.Context, subject string, data []byte) error {
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", subject, err)
	}
	return nil
}

// Consume registers a durable consumer on the stream. Consumers sharing a
// name split the subject's messages. Each delivery is handed to the handler
// unacknowledged; a delivery neither acked nor naked redelivers after the
// ack deadline, which covers runtimes killed mid-task.
func (b *Broker) Consume(ctx context.Context, consumer, subject string, handler broker.DeliveryHandler) (func(), error) {
	c, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumer,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream consumer create: %w", err)
	}

	cons, err := c.Consume(func(msg jetstream.Msg) {
		handler(ctx, &delivery{msg: msg})
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream consume: %w", err)
	}

	return cons.Stop, nil
}

// delivery adapts a jetstream message to the broker.Delivery port.
type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Subject() string { return d.msg.Subject() }
func (d *delivery) Data() []byte    { return d.msg.Data() }
func (d *delivery) Ack() error      { return d.msg.Ack() }
func (d *delivery) Nak() error      { return d.msg.Nak() }

// JetStream exposes the JetStream context for KV bucket setup.
func (b *Broker) JetStream() jetstream.JetStream {
	return b.js
}

// Drain gracefully drains all subscriptions before closing.
func (b *Broker) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (b *Broker) Close() error {
	b.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (b *Broker) IsConnected() bool {
	return b.nc.IsConnected()
}
