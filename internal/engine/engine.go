// Package engine implements the delivery engine: the publish path
// (persist, send, mark) and the consume path (persist, invoke, mark),
// including callback routing between a consumer's result and the original
// publisher. All state lives in the message store; every status change is
// a conditional write on the row version, so concurrent instances never
// double-count an attempt or double-fire a callback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier-go/internal/config"
	"courier-go/internal/domain"
	"courier-go/internal/metrics"
	"courier-go/internal/store"
	"courier-go/internal/transport"
)

// FailureCallback is invoked when a message definitively exhausts its
// retries, with the last recorded failure text. It fires at most once per
// message, guarded by the terminal status transition.
type FailureCallback func(msg *domain.Message, lastError string)

// Config carries the engine's delivery settings, assembled from the
// application config.
type Config struct {
	// Policy governs retry timing and the retry ceiling.
	Policy RetryPolicy

	// SucceededRetention is how long a delivered message stays in the
	// ledger before cleanup.
	SucceededRetention time.Duration

	// FailedRetention is how long a terminally failed message stays in
	// the ledger before cleanup.
	FailedRetention time.Duration

	// OnExhausted, if set, is notified when a message reaches the retry
	// ceiling.
	OnExhausted FailureCallback
}

// ConfigFrom assembles the engine config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Policy:             PolicyFromConfig(&cfg.Retry),
		SucceededRetention: cfg.Retention.Succeeded,
		FailedRetention:    cfg.Retention.Failed,
	}
}

// Engine orchestrates message delivery against a shared store. Multiple
// engine instances may run against the same store; coordination happens
// through the store's version checks and, for scheduled retries, the
// distributed lock manager in the scheduler.
type Engine struct {
	store    store.MessageStore
	sender   transport.Sender
	registry *Registry
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a delivery engine.
func NewEngine(st store.MessageStore, sender transport.Sender, registry *Registry, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		sender:   sender,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Registry returns the handler registry used on the consume path.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// PublishOption customizes one publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	msgType      string
	callbackName string
	headers      map[string]string
}

// WithType declares the payload type tag, informational only.
func WithType(t string) PublishOption {
	return func(o *publishOptions) { o.msgType = t }
}

// WithCallback declares the compensation target the consumer's result is
// routed back to.
func WithCallback(name string) PublishOption {
	return func(o *publishOptions) { o.callbackName = name }
}

// WithHeaders attaches caller-supplied headers, e.g. transport
// partitioning hints. Reserved keys are never overwritten.
func WithHeaders(h map[string]string) PublishOption {
	return func(o *publishOptions) { o.headers = h }
}

// Publish persists an outbound message and attempts delivery. The caller
// only sees an error when persistence itself fails; a send failure after
// the message is durable is recorded in the ledger and left to the retry
// scheduler.
func (e *Engine) Publish(ctx context.Context, name string, body []byte, opts ...PublishOption) (string, error) {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	msg := domain.NewOutbound(name, o.msgType, body, o.callbackName, o.headers)

	if err := e.store.Insert(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to persist message: %w", err)
	}

	if err := e.attemptSend(ctx, msg); err != nil {
		// Ledger write failed after the message was persisted; the
		// scheduler will pick the row up again.
		e.logger.Error("failed to record send outcome", "id", msg.ID, "error", err)
	}

	return msg.ID, nil
}

// Attempt drives one more delivery attempt for a ledger row: a resend for
// outbound messages, a subscriber re-invocation for inbound ones. The
// message's current version is the concurrency token; a lost race is a
// silent skip.
func (e *Engine) Attempt(ctx context.Context, msg *domain.Message) error {
	if msg.Kind == domain.KindInbound {
		return e.attemptInvoke(ctx, msg)
	}
	return e.attemptSend(ctx, msg)
}

// attemptSend hands one outbound message to the transport and records the
// outcome.
func (e *Engine) attemptSend(ctx context.Context, msg *domain.Message) error {
	env := &transport.Envelope{
		Key:     []byte(msg.ID),
		Body:    msg.Body,
		Headers: msg.Headers,
	}

	start := time.Now()
	err := e.sender.Send(ctx, env)
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if err != nil && !isBenignCancellation(ctx, err) {
		metrics.PublishedTotal.WithLabelValues("failure").Inc()
		e.logger.Warn("send failed",
			"id", msg.ID,
			"name", msg.Name,
			"retries", msg.Retries,
			"error", err,
		)
		return e.recordFailure(ctx, msg, err)
	}

	metrics.PublishedTotal.WithLabelValues("success").Inc()
	_, markErr := e.markSucceeded(ctx, msg)
	return markErr
}

// markSucceeded transitions a message to Succeeded and arms the success
// retention window. The bool reports whether this instance won the
// transition; a lost race means another instance already resolved the row.
func (e *Engine) markSucceeded(ctx context.Context, msg *domain.Message) (bool, error) {
	expires := time.Now().UTC().Add(e.cfg.SucceededRetention)
	change := store.StatusChange{
		Status:    domain.StatusSucceeded,
		Retries:   msg.Retries,
		DueAt:     msg.DueAt,
		ExpiresAt: &expires,
	}

	err := e.store.UpdateStatus(ctx, msg.Kind, msg.ID, change, msg.Version)
	if errors.Is(err, domain.ErrVersionConflict) {
		e.logger.Debug("lost status race, skipping", "id", msg.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark message succeeded: %w", err)
	}

	msg.Status = domain.StatusSucceeded
	msg.ExpiresAt = &expires
	msg.Version++

	return true, nil
}

// recordFailure transitions a message to Failed. While under the retry
// ceiling the row stays retryable with a next-attempt time from the
// policy; the failure that reaches the ceiling is terminal, arms the
// failure retention window, and fires the exhaustion callback.
func (e *Engine) recordFailure(ctx context.Context, msg *domain.Message, cause error) error {
	now := time.Now().UTC()
	retries := msg.Retries + 1

	change := store.StatusChange{
		Status:    domain.StatusFailed,
		Retries:   retries,
		Exception: cause.Error(),
		DueAt:     msg.DueAt,
	}

	exhausted := e.cfg.Policy.Exhausted(retries)
	if exhausted {
		expires := now.Add(e.cfg.FailedRetention)
		change.ExpiresAt = &expires
	} else {
		change.DueAt = e.cfg.Policy.NextDue(msg.AddedAt, retries, now)
	}

	err := e.store.UpdateStatus(ctx, msg.Kind, msg.ID, change, msg.Version)
	if errors.Is(err, domain.ErrVersionConflict) {
		// Another instance advanced this row; its outcome stands.
		e.logger.Debug("lost status race, skipping", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record message failure: %w", err)
	}

	msg.Status = domain.StatusFailed
	msg.Retries = retries
	msg.DueAt = change.DueAt
	msg.ExpiresAt = change.ExpiresAt
	msg.Headers[domain.HeaderException] = change.Exception
	msg.Version++

	if exhausted {
		metrics.RetriesExhaustedTotal.WithLabelValues(string(msg.Kind)).Inc()
		e.logger.Error("message exhausted retries",
			"id", msg.ID,
			"name", msg.Name,
			"kind", msg.Kind,
			"retries", retries,
			"error", cause,
		)
		if e.cfg.OnExhausted != nil {
			e.cfg.OnExhausted(msg, cause.Error())
		}
	}

	return nil
}

// isBenignCancellation reports whether an attempt error is a bare
// cancellation of the work itself. It only counts while the attempt's own
// context is still live: when that context is canceled the engine is
// shutting down mid-attempt, and the row must stay unresolved for the
// next poll instead of being marked succeeded without delivery. A
// deadline expiry never qualifies.
func isBenignCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		ctx.Err() == nil
}
