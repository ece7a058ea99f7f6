package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orderflow/internal/orders"
)

// Adjustment is one unit of work: a signed stock delta for a product,
// applied inside the caller's transaction.
type Adjustment struct {
	ProductID string
	Delta     int
}

// Decrements maps an order's line items to the stock decrements paying it
// implies.
func Decrements(items []orders.LineItem) []Adjustment {
	out := make([]Adjustment, 0, len(items))
	for _, it := range items {
		out = append(out, Adjustment{ProductID: it.ProductID, Delta: -it.Qty})
	}
	return out
}

// Adjuster mutates stock quantities. It never commits or rolls back: the
// transaction belongs to the caller, and a returned error is the caller's
// cue to abort the whole unit of work.
type Adjuster struct{}

func (a *Adjuster) Apply(ctx context.Context, tx orders.Tx, adjs []Adjustment) error {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("tx is %T, not a pgx transaction", tx)
	}

	for _, adj := range adjs {
		// Row lock serializes decrements for the same product across
		// concurrent orders; no overselling.
		var stock int
		err := ptx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, adj.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return &orders.InsufficientStockError{ProductID: adj.ProductID, Required: -adj.Delta, Available: 0}
		}
		if err != nil {
			return err
		}
		if stock+adj.Delta < 0 {
			return &orders.InsufficientStockError{ProductID: adj.ProductID, Required: -adj.Delta, Available: stock}
		}
		if _, err := ptx.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE id=$1`, adj.ProductID, adj.Delta); err != nil {
			return err
		}
	}
	return nil
}
