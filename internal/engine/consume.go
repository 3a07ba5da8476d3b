package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-go/internal/domain"
	"courier-go/internal/metrics"
	"courier-go/internal/transport"
)

// HandleDelivery is the engine's consume entry point, wired as the
// transport receiver's handler. It persists the inbound message, then
// invokes the subscriber. A returned error means the delivery could not
// be recorded and must stay uncommitted at the broker; subscriber
// failures are recorded in the ledger instead and retried from there.
func (e *Engine) HandleDelivery(ctx context.Context, d *transport.Delivery) error {
	msg := domain.NewInbound(d.Body, d.Headers)

	if err := e.store.Insert(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			// Redelivery of an id the ledger already carries; the first
			// receipt owns the invocation.
			e.logger.Debug("duplicate delivery short-circuited", "id", msg.ID, "name", msg.Name)
			return nil
		}
		return fmt.Errorf("failed to persist inbound message: %w", err)
	}

	if err := e.attemptInvoke(ctx, msg); err != nil {
		e.logger.Error("failed to record invoke outcome", "id", msg.ID, "error", err)
	}

	return nil
}

// attemptInvoke resolves and runs the subscriber for one inbound message
// and records the outcome. After a won success transition, the callback
// router may republish the handler's result.
func (e *Engine) attemptInvoke(ctx context.Context, msg *domain.Message) error {
	handler, ok := e.registry.Lookup(msg.Name)
	if !ok {
		metrics.ConsumedTotal.WithLabelValues("failure").Inc()
		return e.recordFailure(ctx, msg, fmt.Errorf("%w: %q", domain.ErrSubscriberNotFound, msg.Name))
	}

	header := domain.NewCallbackHeader(msg.Headers)

	start := time.Now()
	result, err := handler(ctx, msg.Body, header)
	metrics.InvokeLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if isBenignCancellation(ctx, err) {
			// The subscriber canceled its own work. The row resolves, but
			// there is no result to route back.
			metrics.ConsumedTotal.WithLabelValues("success").Inc()
			_, markErr := e.markSucceeded(ctx, msg)
			return markErr
		}
		metrics.ConsumedTotal.WithLabelValues("failure").Inc()
		e.logger.Warn("subscriber failed",
			"id", msg.ID,
			"name", msg.Name,
			"retries", msg.Retries,
			"error", err,
		)
		return e.recordFailure(ctx, msg, err)
	}

	metrics.ConsumedTotal.WithLabelValues("success").Inc()

	won, markErr := e.markSucceeded(ctx, msg)
	if markErr != nil || !won {
		return markErr
	}

	return e.routeCallback(ctx, msg, header, result)
}
