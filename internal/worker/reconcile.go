package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/orders"
	"orderflow/internal/payment"
)

// Processor is the coordinator surface the sweep drives.
type Processor interface {
	ProcessOrder(ctx context.Context, id uuid.UUID, target orders.Status) (*orders.Order, error)
}

type StaleFinder interface {
	FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]orders.Order, error)
}

type IntentChecker interface {
	IntentStatus(ctx context.Context, intentID string) (payment.IntentState, error)
}

// Reconciler repairs orders stuck in PENDING: a crash between the order
// write and the webhook, or a lost callback, leaves money state only the
// gateway knows. The gateway is the source of truth; the sweep asks it and
// drives the order to the matching terminal status through the coordinator.
type Reconciler struct {
	Store     StaleFinder
	Gateway   IntentChecker
	Processor Processor
	Log       *slog.Logger

	Every  time.Duration
	Cutoff time.Duration
	Limit  int
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	r.Log.Info("reconciliation sweep started", "every", r.Every, "cutoff", r.Cutoff)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				r.Log.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) error {
	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}
	stuck, err := r.Store.FindStalePending(ctx, r.Cutoff, limit)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}
	r.Log.Info("stuck pending orders found", "count", len(stuck))

	for _, o := range stuck {
		target := orders.StatusFailed

		if o.PaymentRef != "" {
			state, err := r.Gateway.IntentStatus(ctx, o.PaymentRef)
			if err != nil {
				r.Log.Warn("intent status check failed, skipping", "order_id", o.ID, "err", err)
				continue
			}
			switch state {
			case payment.IntentSucceeded:
				target = orders.StatusPaid
			case payment.IntentPending:
				// Buyer may still confirm; leave it for a later sweep.
				continue
			}
		}
		// No payment ref past the cutoff means intent creation never
		// succeeded; fail the order so it stops counting as open.

		if _, err := r.Processor.ProcessOrder(ctx, o.ID, target); err != nil {
			var trErr *orders.TransitionError
			if errors.As(err, &trErr) {
				continue // settled between the scan and now
			}
			r.Log.Error("reconcile failed", "order_id", o.ID, "target", target, "err", err)
			continue
		}
		r.Log.Info("order reconciled", "order_id", o.ID, "target", target)
	}
	return nil
}
