package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: no order with the given id.
	ErrNotFound = errors.New("order not found")

	// ErrConflict: a concurrent writer got there first (conditional update
	// matched zero rows, or the storage layer reported a serialization
	// failure). Safe to retry.
	ErrConflict = errors.New("order modified concurrently")
)

// InsufficientStockError aborts the whole processing transaction; the order
// keeps its prior status and no decrement in the batch survives.
type InsufficientStockError struct {
	ProductID string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: need %d, have %d", e.ProductID, e.Required, e.Available)
}

// TransitionError rejects a move the status machine does not allow,
// e.g. a duplicate payment webhook trying to leave a terminal state.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}
