// Package transport defines the abstract send/receive boundary to the
// underlying broker. This abstraction allows swapping implementations
// (Kafka, in-memory) without changing the delivery engine.
package transport

import (
	"context"
)

// Delivery is one inbound payload handed from the broker to the engine's
// consume entry point. Headers carry at least the reserved cap-* keys;
// any transport-specific routing keys pass through unexamined.
type Delivery struct {
	// Key is the partition key the broker delivered the payload under.
	Key []byte

	// Body is the opaque message payload.
	Body []byte

	// Headers contains the wire-level message metadata.
	Headers map[string]string
}

// Envelope is one outbound payload handed from the engine to the broker.
type Envelope struct {
	// Key is the partition key for ordering-sensitive brokers.
	Key []byte

	// Body is the opaque message payload.
	Body []byte

	// Headers contains the wire-level message metadata.
	Headers map[string]string
}

// Sender delivers outbound envelopes to the broker.
// Implementations must be safe for concurrent use.
type Sender interface {
	// Send hands one envelope to the broker. An error means the broker
	// did not accept the envelope and the attempt counts as a failure.
	Send(ctx context.Context, env *Envelope) error

	// Close releases any resources held by the sender.
	Close() error
}

// DeliveryHandler is the engine's consume entry point.
// Return an error to leave the delivery uncommitted at the broker.
type DeliveryHandler func(ctx context.Context, d *Delivery) error

// Receiver streams inbound deliveries to a handler.
type Receiver interface {
	// Start begins receiving and calls the handler for each delivery.
	// This is a blocking call that runs until the context is canceled
	// or an unrecoverable error occurs.
	Start(ctx context.Context, handler DeliveryHandler) error

	// Close stops receiving and releases any resources.
	Close() error
}
