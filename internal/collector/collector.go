// Package collector implements the cleanup collector: a periodic sweep
// that removes ledger rows whose expiry has passed. This is the only path
// by which storage is reclaimed, and it runs on its own cadence,
// decoupled from the retry scheduler.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"courier-go/internal/config"
	"courier-go/internal/domain"
	"courier-go/internal/metrics"
	"courier-go/internal/store"
)

var kinds = []domain.Kind{domain.KindOutbound, domain.KindInbound}

// Collector deletes expired messages in bounded batches.
type Collector struct {
	store  store.MessageStore
	cfg    config.CleanupConfig
	logger *slog.Logger
}

// NewCollector creates a cleanup collector.
func NewCollector(st store.MessageStore, cfg config.CleanupConfig, logger *slog.Logger) *Collector {
	return &Collector{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the sweep loop. This is a blocking call that returns when
// the context is canceled.
func (c *Collector) Start(ctx context.Context) error {
	c.logger.Info("starting cleanup collector",
		"interval", c.cfg.Interval,
		"batch_size", c.cfg.BatchSize,
	)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cleanup collector stopping")
			return ctx.Err()
		case <-ticker.C:
			c.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep over both ledgers. Rows are only eligible
// once their expiry is set and past, so a Scheduled message can never be
// collected.
func (c *Collector) SweepOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.CleanupPassDuration.Observe(time.Since(start).Seconds())
	}()

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return
		}
		if err := c.sweepKind(ctx, kind); err != nil {
			c.logger.Error("cleanup sweep failed", "kind", kind, "error", err)
		}
	}
}

// sweepKind deletes expired rows of one ledger batch by batch until a
// short batch signals the backlog is drained.
func (c *Collector) sweepKind(ctx context.Context, kind domain.Kind) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		ids, err := c.store.FindExpired(ctx, kind, time.Now().UTC(), c.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to find expired messages: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		removed, err := c.store.Delete(ctx, kind, ids)
		if err != nil {
			return fmt.Errorf("failed to delete expired messages: %w", err)
		}

		metrics.CleanupDeletedTotal.WithLabelValues(string(kind)).Add(float64(removed))
		c.logger.Debug("deleted expired messages", "kind", kind, "count", removed)

		if len(ids) < c.cfg.BatchSize {
			return nil
		}
	}
}
