package fulfillment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"orderflow/internal/inventory"
	"orderflow/internal/orders"
	"orderflow/internal/payment"
)

// In-memory storage with real transaction semantics: Begin takes a global
// lock (standing in for row locks), writes are staged on the tx and applied
// only at Commit. Rollback discards everything staged.

type memDB struct {
	mu         sync.Mutex
	ordersByID map[uuid.UUID]*orders.Order
	stock      map[string]int
}

func newMemDB() *memDB {
	return &memDB{
		ordersByID: make(map[uuid.UUID]*orders.Order),
		stock:      make(map[string]int),
	}
}

func (d *memDB) Begin(ctx context.Context) (orders.Tx, error) {
	d.mu.Lock()
	return &memTx{db: d, stagedStock: make(map[string]int)}, nil
}

func (d *memDB) order(id uuid.UUID) (*orders.Order, bool) {
	o, ok := d.ordersByID[id]
	if !ok {
		return nil, false
	}
	cp := *o
	cp.Items = append([]orders.LineItem(nil), o.Items...)
	return &cp, true
}

func (d *memDB) stockOf(p string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stock[p]
}

func (d *memDB) statusOf(id uuid.UUID) orders.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ordersByID[id].Status
}

type memTx struct {
	db           *memDB
	stagedOrders []func()
	stagedStock  map[string]int
	done         bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("tx already finished")
	}
	for _, f := range t.stagedOrders {
		f()
	}
	for p, delta := range t.stagedStock {
		t.db.stock[p] += delta
	}
	t.done = true
	t.db.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.mu.Unlock()
	return nil
}

type memStore struct {
	db *memDB

	createErr    error
	conflictOnce bool // next UpdateStatus reports ErrConflict once
	refErr       error
}

func (s *memStore) Create(ctx context.Context, o *orders.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *o
	cp.Items = append([]orders.LineItem(nil), o.Items...)
	s.db.ordersByID[o.ID] = &cp
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.order(id)
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func (s *memStore) LockForUpdate(ctx context.Context, tx orders.Tx, id uuid.UUID) (*orders.Order, error) {
	// caller already holds the db lock via Begin
	o, ok := s.db.order(id)
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, tx orders.Tx, id uuid.UUID, from, to orders.Status) error {
	if s.conflictOnce {
		s.conflictOnce = false
		return orders.ErrConflict
	}
	t := tx.(*memTx)
	o, ok := s.db.ordersByID[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != from {
		return orders.ErrConflict
	}
	t.stagedOrders = append(t.stagedOrders, func() { o.Status = to })
	return nil
}

func (s *memStore) SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error {
	if s.refErr != nil {
		return s.refErr
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.ordersByID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.PaymentRef = ref
	return nil
}

type memInventory struct {
	db *memDB
}

func (i *memInventory) Apply(ctx context.Context, tx orders.Tx, adjs []inventory.Adjustment) error {
	t := tx.(*memTx)
	for _, adj := range adjs {
		avail := i.db.stock[adj.ProductID] + t.stagedStock[adj.ProductID]
		if avail+adj.Delta < 0 {
			return &orders.InsufficientStockError{
				ProductID: adj.ProductID,
				Required:  -adj.Delta,
				Available: avail,
			}
		}
		t.stagedStock[adj.ProductID] += adj.Delta
	}
	return nil
}

// recordingNotifier signals every call so tests can wait for the async
// notification without sleeping.
type recordingNotifier struct {
	mu    sync.Mutex
	seen  []*orders.Order
	calls chan *orders.Order
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(chan *orders.Order, 16)}
}

func (n *recordingNotifier) OrderFinalized(ctx context.Context, o *orders.Order) error {
	n.mu.Lock()
	n.seen = append(n.seen, o)
	n.mu.Unlock()
	n.calls <- o
	return n.err
}

// gatewayFunc lets a test hook intent creation inline.
type gatewayFunc func(ctx context.Context, amountCents int64, metadata map[string]string, customerRef string) (*payment.Intent, error)

func (f gatewayFunc) CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string, customerRef string) (*payment.Intent, error) {
	return f(ctx, amountCents, metadata, customerRef)
}
