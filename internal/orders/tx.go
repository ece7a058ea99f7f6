package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Tx is the unit-of-work handle threaded through collaborator calls.
// Exactly one owner (the fulfillment coordinator) decides commit or
// rollback; collaborators only write through it.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB begins transactions. *postgres.DB provides the pgx-backed
// implementation; tests substitute an in-memory one.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}

// asPgx unwraps the handle for SQL-backed collaborators.
func asPgx(tx Tx) (pgx.Tx, error) {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return nil, fmt.Errorf("tx is %T, not a pgx transaction", tx)
	}
	return ptx, nil
}
