package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

// Create persists the order and its line items in one short transaction.
// This write completes before any payment-gateway call is made.
func (s *Store) Create(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, payment_ref, status, total_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.CustomerID, o.PaymentRef, o.Status, o.TotalCents, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapPgErr(err)
	}
	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Qty, it.PriceCents,
		)
		if err != nil {
			return mapPgErr(err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, customer_id, payment_ref, status, total_cents, created_at, updated_at
		FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.loadItems(ctx, s.DB, id); err != nil {
		return nil, err
	}
	return o, nil
}

// LockForUpdate reads the order inside tx with a row lock, serializing
// concurrent processing attempts for the same order.
func (s *Store) LockForUpdate(ctx context.Context, tx Tx, id uuid.UUID) (*Order, error) {
	ptx, err := asPgx(tx)
	if err != nil {
		return nil, err
	}
	row := ptx.QueryRow(ctx, `
		SELECT id, customer_id, payment_ref, status, total_cents, created_at, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.loadItems(ctx, ptx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus transitions from -> to conditionally. A zero-row match on an
// existing order means another writer won; callers retry on ErrConflict.
func (s *Store) UpdateStatus(ctx context.Context, tx Tx, id uuid.UUID, from, to Status) error {
	ptx, err := asPgx(tx)
	if err != nil {
		return err
	}
	ct, err := ptx.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return mapPgErr(err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := ptx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
			return mapPgErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *Store) SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error {
	ct, err := s.DB.Exec(ctx, `UPDATE orders SET payment_ref=$2, updated_at=now() WHERE id=$1`, id, ref)
	if err != nil {
		return mapPgErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindStalePending lists orders stuck in PENDING past the cutoff, for the
// reconciliation sweep. Items are not loaded; the sweep only needs identity
// and the payment reference.
func (s *Store) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, customer_id, payment_ref, status, total_cents, created_at, updated_at
		FROM orders
		WHERE status=$1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		StatusPending, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.PaymentRef, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) loadItems(ctx context.Context, q querier, id uuid.UUID) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, qty, price_cents FROM order_items WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.PaymentRef, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// mapPgErr folds storage-level write conflicts into ErrConflict so the
// coordinator's retry loop can treat them uniformly.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return ErrConflict
		}
	}
	return err
}
