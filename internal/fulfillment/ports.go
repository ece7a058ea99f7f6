package fulfillment

import (
	"context"

	"github.com/google/uuid"

	"orderflow/internal/inventory"
	"orderflow/internal/orders"
	"orderflow/internal/payment"
)

// Ports the coordinator drives. Production wiring: *orders.Store,
// *inventory.Adjuster, *payment.Client, *notify.Kafka, *postgres.DB.

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	LockForUpdate(ctx context.Context, tx orders.Tx, id uuid.UUID) (*orders.Order, error)
	UpdateStatus(ctx context.Context, tx orders.Tx, id uuid.UUID, from, to orders.Status) error
	SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error
}

// Inventory applies stock deltas inside the coordinator's transaction.
// It must never commit or roll back.
type Inventory interface {
	Apply(ctx context.Context, tx orders.Tx, adjs []inventory.Adjustment) error
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string, customerRef string) (*payment.Intent, error)
}

// Notifier failures are logged and swallowed: notification sits outside the
// consistency boundary.
type Notifier interface {
	OrderFinalized(ctx context.Context, o *orders.Order) error
}
