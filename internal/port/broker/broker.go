// Package broker defines the message broker port (interface).
package broker

import "context"

// Handler processes a message received from the broker.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Delivery is one durable stream message awaiting explicit acknowledgement.
// It is not acknowledged until the handler calls Ack or Nak, so an ack can
// be held open while the work the message describes is still running.
type Delivery interface {
	Subject() string
	Data() []byte

	// Ack marks the delivery processed; it will not be redelivered.
	Ack() error

	// Nak rejects the delivery; the broker redelivers it.
	Nak() error
}

// DeliveryHandler processes a durable stream delivery and owns its
// acknowledgement.
type DeliveryHandler func(ctx context.Context, d Delivery)

// AutoAck adapts a Handler to a DeliveryHandler for consumers whose work
// finishes before the handler returns: a nil result acks the delivery, an
// error naks it for redelivery.
func AutoAck(h Handler) DeliveryHandler {
	return func(ctx context.Context, d Delivery) {
		if err := h(ctx, d.Subject(), d.Data()); err != nil {
			_ = d.Nak()
			return
		}
		_ = d.Ack()
	}
}

// Broker is the port interface for publishing and subscribing to messages.
//
// Publish/Subscribe are fire-and-forget (at-most-once): used for events,
// heartbeats and broadcasts where a missed message is tolerable.
// Append/Consume go through a durable stream (at-least-once): used for
// task dispatch and agent-to-agent messages that must survive restarts.
type Broker interface {
	// Publish sends a message to the given subject. At-most-once.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Append persists a message to the durable stream under the given subject.
	Append(ctx context.Context, subject string, data []byte) error

	// Consume registers a durable consumer for stream messages on the given
	// subject. The consumer name identifies the group: consumers sharing a
	// name split the subject's messages between them. The handler owns the
	// acknowledgement of each delivery; an unacknowledged delivery is
	// redelivered after the ack deadline.
	Consume(ctx context.Context, consumer, subject string, handler DeliveryHandler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the broker connection immediately.
	Close() error

	// IsConnected reports whether the broker is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by AgentMesh.
const (
	SubjectAgentEvents = "agents.events"     // lifecycle transitions, spawn/stop/restart
	SubjectHeartbeats  = "agents.heartbeats" // periodic runtime heartbeats
	SubjectBroadcast   = "agents.broadcast"  // fan-out to every agent
	SubjectAgentInbox  = "agents.inbox"      // agents.inbox.{agent_id} — durable per-agent delivery
	SubjectTaskResults = "tasks.results"     // task outcomes from runtimes
	SubjectMeshMessage = "mesh.messages"     // mesh.messages.{agent_id} — directed agent messages
)

// InboxSubject returns the durable inbox subject for an agent.
func InboxSubject(agentID string) string {
	return SubjectAgentInbox + "." + agentID
}

// MessageSubject returns the directed message subject for an agent.
func MessageSubject(agentID string) string {
	return SubjectMeshMessage + "." + agentID
}
