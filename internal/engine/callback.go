package engine

import (
	"context"
	"fmt"

	"courier-go/internal/domain"
	"courier-go/internal/metrics"
)

// routeCallback builds and publishes the compensating message after a
// successful subscriber invocation. The target resolves in priority
// order: a RewriteCallback name set during the invocation, then the
// callback name the publisher declared; RemoveCallback suppresses both.
// The compensating message re-enters the publish path like any
// application-originated publish and is subject to the full retry and
// expiry machinery.
func (e *Engine) routeCallback(ctx context.Context, inbound *domain.Message, header *domain.CallbackHeader, result []byte) error {
	target, ok := header.ResolveTarget()
	if !ok {
		return nil
	}

	out := domain.NewOutbound(target, "", result, "", header.ResponseHeaders())

	if err := e.store.Insert(ctx, out); err != nil {
		return fmt.Errorf("failed to persist compensating message: %w", err)
	}

	metrics.CallbacksTotal.Inc()
	e.logger.Debug("routing callback",
		"inbound_id", inbound.ID,
		"outbound_id", out.ID,
		"target", target,
	)

	return e.attemptSend(ctx, out)
}
