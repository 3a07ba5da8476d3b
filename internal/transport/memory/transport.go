// Package memory provides an in-memory loopback implementation of the
// transport interfaces. Envelopes sent through it come back as deliveries
// within the same process, which is useful for testing and development
// without a broker.
package memory

import (
	"context"
	"sync"

	"courier-go/internal/transport"
)

// Transport is an in-memory implementation of both Sender and Receiver.
// Envelopes are stored in a channel, so publishes loop back to the local
// receiver. This implementation is safe for concurrent use.
type Transport struct {
	deliveries chan *transport.Delivery
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewTransport creates a new loopback transport with the specified buffer
// size. The buffer size determines how many envelopes can be in flight
// before Send blocks (or fails if the context is canceled).
func NewTransport(bufferSize int) *Transport {
	return &Transport{
		deliveries: make(chan *transport.Delivery, bufferSize),
		done:       make(chan struct{}),
	}
}

// Send loops an envelope back as a local delivery. A Send racing with
// Close returns ErrTransportClosed; the delivery channel itself is never
// closed, so a blocked Send cannot panic.
func (t *Transport) Send(ctx context.Context, env *transport.Envelope) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	headers := make(map[string]string, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = v
	}

	delivery := &transport.Delivery{
		Key:     append([]byte(nil), env.Key...),
		Body:    append([]byte(nil), env.Body...),
		Headers: headers,
	}

	select {
	case t.deliveries <- delivery:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins delivering envelopes and calls the handler for each one.
// This blocks until the context is canceled or the transport is closed.
func (t *Transport) Start(ctx context.Context, handler transport.DeliveryHandler) error {
	t.wg.Add(1)
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case d := <-t.deliveries:
			if err := handler(ctx, d); err != nil {
				// The engine owns failure handling; nothing to do here.
				continue
			}
		}
	}
}

// Close shuts down the transport, stopping the receive loop. In-flight
// envelopes still in the buffer are dropped.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
	return nil
}

// Len returns the number of in-flight envelopes.
// Useful for testing to verify transport state.
func (t *Transport) Len() int {
	return len(t.deliveries)
}
