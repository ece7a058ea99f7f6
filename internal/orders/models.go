package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LineItem is a snapshot taken at order time: the price is copied from the
// catalog, never re-read, so historical orders stay stable when catalog
// prices move.
type LineItem struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

func (li LineItem) SubtotalCents() int64 { return int64(li.Qty) * li.PriceCents }

type Order struct {
	ID         uuid.UUID  `json:"id"`
	CustomerID string     `json:"customer_id"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
	Status     Status     `json:"status"`
	PaymentRef string     `json:"payment_ref,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// New builds a PENDING order with a fresh id and a derived total.
// Items are immutable afterwards; changes require a new order.
func New(customerID string, items []LineItem) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order needs at least one line item")
	}
	var total int64
	for _, it := range items {
		if it.Qty < 1 {
			return nil, fmt.Errorf("invalid qty %d for product %s", it.Qty, it.ProductID)
		}
		total += it.SubtotalCents()
	}
	now := time.Now().UTC()
	return &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Items:      items,
		TotalCents: total,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
