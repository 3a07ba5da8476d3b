// Package scheduler implements the retry scheduler: a per-instance
// polling loop that selects due ledger rows and drives one more delivery
// attempt each, without two instances working the same message. All
// coordination is mediated through the store's version checks plus,
// when enabled, distributed lock leases keyed by message id.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier-go/internal/config"
	"courier-go/internal/domain"
	"courier-go/internal/engine"
	"courier-go/internal/lock"
	"courier-go/internal/metrics"
	"courier-go/internal/store"
)

// kinds is the fixed order a pass walks the two ledgers in.
var kinds = []domain.Kind{domain.KindOutbound, domain.KindInbound}

// Scheduler periodically re-drives due messages through the engine.
// A message that definitively exhausts its retries surfaces through the
// engine's exhaustion callback, never back into application code.
type Scheduler struct {
	store  store.MessageStore
	engine *engine.Engine
	locker lock.Locker
	cfg    config.RetryConfig
	logger *slog.Logger
}

// NewScheduler creates a retry scheduler. The locker may be nil when
// storage-lock coordination is disabled in the config.
func NewScheduler(st store.MessageStore, eng *engine.Engine, locker lock.Locker, cfg config.RetryConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  st,
		engine: eng,
		locker: locker,
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the polling loop. This is a blocking call that returns when
// the context is canceled. Crash recovery needs nothing beyond this loop:
// every claim is a conditional write, so a restarted instance simply
// re-polls the store.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting retry scheduler",
		"poll_interval", s.cfg.PollInterval,
		"max_retries", s.cfg.MaxRetries,
		"storage_lock", s.cfg.UseStorageLock,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce runs a single scheduling pass over both ledgers.
func (s *Scheduler) ProcessOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SchedulerPassDuration.Observe(time.Since(start).Seconds())
	}()

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return
		}
		if err := s.processKind(ctx, kind); err != nil {
			s.logger.Error("scheduling pass failed", "kind", kind, "error", err)
		}
	}
}

// processKind selects the due messages of one ledger and attempts each.
func (s *Scheduler) processKind(ctx context.Context, kind domain.Kind) error {
	due, err := s.store.FindDue(ctx, kind, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to find due messages: %w", err)
	}

	for _, msg := range due {
		if ctx.Err() != nil {
			return nil
		}
		s.attempt(ctx, kind, msg)
	}

	return nil
}

// attempt drives one more delivery attempt for a single message: take the
// lease when locking is enabled, claim the row with a conditional write,
// then hand it to the engine. Any contention is a silent skip; the next
// pass will see the row again if it is still unresolved.
func (s *Scheduler) attempt(ctx context.Context, kind domain.Kind, msg *domain.Message) {
	if s.cfg.UseStorageLock && s.locker != nil {
		lease, err := s.locker.Acquire(ctx, retryLockKey(kind, msg.ID), s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockUnavailable) {
				// Another instance owns this message this round.
				metrics.LockSkipsTotal.WithLabelValues(string(kind)).Inc()
				return
			}
			s.logger.Error("failed to acquire retry lease", "id", msg.ID, "error", err)
			return
		}
		defer func() {
			if err := lease.Release(ctx); err != nil {
				// The lease TTL still bounds staleness.
				s.logger.Warn("failed to release retry lease", "id", msg.ID, "error", err)
			}
		}()
	}

	if !s.claim(ctx, kind, msg) {
		return
	}

	metrics.RetriesTotal.WithLabelValues(string(kind)).Inc()

	if err := s.engine.Attempt(ctx, msg); err != nil {
		s.logger.Error("retry attempt failed to record", "id", msg.ID, "error", err)
	}
}

// claim re-arms the row for this attempt with a conditional write: status
// back to Scheduled and the due time pushed one interval out, so a crash
// mid-attempt surfaces the row again after at most one interval. A
// version conflict means another instance claimed it first.
func (s *Scheduler) claim(ctx context.Context, kind domain.Kind, msg *domain.Message) bool {
	change := store.StatusChange{
		Status:  domain.StatusScheduled,
		Retries: msg.Retries,
		DueAt:   time.Now().UTC().Add(s.cfg.Interval),
	}

	err := s.store.UpdateStatus(ctx, kind, msg.ID, change, msg.Version)
	if errors.Is(err, domain.ErrVersionConflict) {
		return false
	}
	if err != nil {
		s.logger.Error("failed to claim message", "id", msg.ID, "error", err)
		return false
	}

	msg.Status = domain.StatusScheduled
	msg.DueAt = change.DueAt
	msg.Version++

	return true
}

// retryLockKey builds the lease key for one message.
func retryLockKey(kind domain.Kind, id string) string {
	return fmt.Sprintf("courier:retry:%s:%s", kind, id)
}
