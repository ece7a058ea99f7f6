package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"orderflow/internal/inventory"
	"orderflow/internal/orders"
)

// Coordinator owns the order lifecycle: it is the only component that
// transitions order status, and the only owner of the transaction spanning
// the status write and the inventory decrements.
type Coordinator struct {
	db         orders.DB
	store      OrderStore
	inv        Inventory
	gateway    PaymentGateway
	notifier   Notifier
	log        *slog.Logger
	maxRetries uint64
}

func New(db orders.DB, store OrderStore, inv Inventory, gw PaymentGateway, n Notifier, log *slog.Logger, maxRetries int) *Coordinator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Coordinator{
		db:         db,
		store:      store,
		inv:        inv,
		gateway:    gw,
		notifier:   n,
		log:        log,
		maxRetries: uint64(maxRetries),
	}
}

type PlaceOrderInput struct {
	CustomerID string
	PaymentRef string // gateway-side customer / payment account reference
	Items      []orders.LineItem
}

type PlaceOrderResult struct {
	Order        *orders.Order
	ClientSecret string
}

// PlaceOrder persists a PENDING order, then asks the gateway for a payment
// intent tagged with the order id. The order write always comes first: an
// intent must never reference an order that could vanish, and a persisted
// order is what makes post-crash reconciliation possible. If the gateway
// call fails the order deliberately stays PENDING; payment failure is
// surfaced to the caller but never destroys order history.
func (c *Coordinator) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	o, err := orders.New(in.CustomerID, in.Items)
	if err != nil {
		return nil, err
	}

	if err := c.store.Create(ctx, o); err != nil {
		c.log.Error("order create failed", "customer_id", in.CustomerID, "err", err)
		return nil, err
	}
	c.log.Info("order created", "order_id", o.ID, "total_cents", o.TotalCents)

	// Network call outside any transaction; a held lock must never wait on
	// the gateway.
	intent, err := c.gateway.CreateIntent(ctx, o.TotalCents, map[string]string{"order_id": o.ID.String()}, in.PaymentRef)
	if err != nil {
		c.log.Error("payment intent failed, order stays pending", "order_id", o.ID, "err", err)
		return nil, err
	}

	o.PaymentRef = intent.ID
	if err := c.store.SetPaymentRef(ctx, o.ID, intent.ID); err != nil {
		// The intent's order_id metadata lets the reconciliation sweep
		// recover this link.
		c.log.Warn("payment ref not persisted", "order_id", o.ID, "intent_id", intent.ID, "err", err)
	}

	c.log.Info("payment intent created", "order_id", o.ID, "intent_id", intent.ID)
	return &PlaceOrderResult{Order: o, ClientSecret: intent.ClientSecret}, nil
}

// ProcessOrder drives an order to a terminal status. Status write and
// inventory decrements share one transaction: either everything commits or
// nothing does. Conflicting attempts (orders.ErrConflict) are retried with
// bounded exponential backoff; everything else is permanent.
func (c *Coordinator) ProcessOrder(ctx context.Context, id uuid.UUID, target orders.Status) (*orders.Order, error) {
	if !target.Terminal() {
		return nil, &orders.TransitionError{From: orders.StatusPending, To: target}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	o, err := backoff.RetryWithData(func() (*orders.Order, error) {
		o, err := c.processOnce(ctx, id, target)
		if err != nil && !errors.Is(err, orders.ErrConflict) {
			return nil, backoff.Permanent(err)
		}
		return o, err
	}, b)
	if err != nil {
		c.log.Error("process order failed", "order_id", id, "target", target, "err", err)
		return nil, err
	}
	return o, nil
}

func (c *Coordinator) processOnce(ctx context.Context, id uuid.UUID, target orders.Status) (*orders.Order, error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	o, err := c.store.LockForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if o.Status == target {
		// Duplicate delivery of the same outcome (retried webhook) is a
		// no-op: nothing written, nothing decremented, no notification.
		c.log.Info("order already in target status", "order_id", id, "status", target)
		return o, nil
	}
	if !orders.CanTransition(o.Status, target) {
		return nil, &orders.TransitionError{From: o.Status, To: target}
	}

	if err := c.store.UpdateStatus(ctx, tx, id, o.Status, target); err != nil {
		return nil, err
	}

	// Stock leaves the building only when money arrived. FAILED and
	// CANCELLED terminate the order without touching inventory.
	if target == orders.StatusPaid {
		if err := c.inv.Apply(ctx, tx, inventory.Decrements(o.Items)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	o.Status = target
	o.UpdatedAt = time.Now().UTC()
	c.log.Info("order finalized", "order_id", id, "status", target)

	go c.notify(o)
	return o, nil
}

func (c *Coordinator) notify(o *orders.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.notifier.OrderFinalized(ctx, o); err != nil {
		// Best effort only; the committed transaction stands.
		c.log.Warn("order notification failed", "order_id", o.ID, "err", err)
	}
}
