// Package relay forwards outbox records to the event bus.
package relay

import (
	"context"
	"log/slog"
	"time"

	audit "provisioner/pkg/platform/audit"
)

// Outbox is the pending side of the transactional outbox.
type Outbox interface {
	ListPending(ctx context.Context, limit int) ([]audit.Record, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// Bus publishes a serialized record.
type Bus interface {
	Publish(ctx context.Context, rec audit.Record) error
}

// Relay polls the outbox and forwards records in order.
type Relay struct {
	outbox   Outbox
	bus      Bus
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func New(outbox Outbox, bus Bus, logger *slog.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{outbox: outbox, bus: bus, logger: logger, interval: interval, batch: 100}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil {
			r.logger.WarnContext(ctx, "audit relay flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush forwards one batch and returns how many records were published.
// It stops at the first publish failure so ordering is preserved.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	for i, rec := range pending {
		if err := r.bus.Publish(ctx, rec); err != nil {
			return i, err
		}
		if err := r.outbox.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}
