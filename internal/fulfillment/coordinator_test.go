package fulfillment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/orders"
	"orderflow/internal/payment"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	db       *memDB
	store    *memStore
	gateway  *payment.Fake
	notifier *recordingNotifier
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newMemDB()
	store := &memStore{db: db}
	gw := payment.NewFake()
	n := newRecordingNotifier()
	return &harness{
		db:       db,
		store:    store,
		gateway:  gw,
		notifier: n,
		coord:    New(db, store, &memInventory{db: db}, gw, n, discardLog(), 3),
	}
}

func (h *harness) placePending(t *testing.T, items ...orders.LineItem) *orders.Order {
	t.Helper()
	o, err := orders.New("cus_123", items)
	require.NoError(t, err)
	require.NoError(t, h.store.Create(context.Background(), o))
	return o
}

func (h *harness) waitNotified(t *testing.T) *orders.Order {
	t.Helper()
	select {
	case o := <-h.notifier.calls:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was never called")
		return nil
	}
}

func item(product string, qty int, price int64) orders.LineItem {
	return orders.LineItem{ProductID: product, Qty: qty, PriceCents: price}
}

func TestPlaceOrderPersistsBeforeIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var observed *orders.Order
	gw := gatewayFunc(func(ctx context.Context, amount int64, metadata map[string]string, customerRef string) (*payment.Intent, error) {
		id, err := uuid.Parse(metadata["order_id"])
		require.NoError(t, err)
		// the order must already be durable when the gateway sees it
		observed, err = h.store.FindByID(ctx, id)
		require.NoError(t, err)
		return &payment.Intent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
	})
	coord := New(h.db, h.store, &memInventory{db: h.db}, gw, h.notifier, discardLog(), 3)

	res, err := coord.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID: "cus_123",
		PaymentRef: "pm_card",
		Items:      []orders.LineItem{item("sku-a", 2, 500)},
	})
	require.NoError(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, orders.StatusPending, observed.Status)
	assert.Equal(t, int64(1000), observed.TotalCents)
	assert.Equal(t, "pi_test_secret", res.ClientSecret)

	stored, err := h.store.FindByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_test", stored.PaymentRef)
}

func TestPlaceOrderGatewayFailureLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.FailNext()

	_, err := h.coord.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID: "cus_123",
		Items:      []orders.LineItem{item("sku-a", 1, 500)},
	})
	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)

	// order history survives the payment failure
	require.Len(t, h.db.ordersByID, 1)
	for id := range h.db.ordersByID {
		assert.Equal(t, orders.StatusPending, h.db.statusOf(id))
	}
}

func TestPlaceOrderRejectsEmptyAndInvalidItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.PlaceOrder(ctx, PlaceOrderInput{CustomerID: "cus_123"})
	require.Error(t, err)

	_, err = h.coord.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID: "cus_123",
		Items:      []orders.LineItem{item("sku-a", 0, 500)},
	})
	require.Error(t, err)
	assert.Empty(t, h.db.ordersByID)
}

func TestPlaceOrderClientRetryCreatesDistinctOrders(t *testing.T) {
	// Documents the non-deduplicated behavior: a retried checkout yields two
	// orders with two distinct pending intents.
	h := newHarness(t)
	ctx := context.Background()
	in := PlaceOrderInput{CustomerID: "cus_123", Items: []orders.LineItem{item("sku-a", 1, 500)}}

	first, err := h.coord.PlaceOrder(ctx, in)
	require.NoError(t, err)
	second, err := h.coord.PlaceOrder(ctx, in)
	require.NoError(t, err)

	assert.NotEqual(t, first.Order.ID, second.Order.ID)
	assert.NotEqual(t, first.Order.PaymentRef, second.Order.PaymentRef)
	assert.Len(t, h.db.ordersByID, 2)
}

func TestProcessOrderPaidDecrementsAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 5
	o := h.placePending(t, item("sku-a", 2, 500))

	got, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, 3, h.db.stockOf("sku-a"))
	assert.Equal(t, orders.StatusPaid, h.db.statusOf(o.ID))

	notified := h.waitNotified(t)
	assert.Equal(t, o.ID, notified.ID)
	assert.Equal(t, orders.StatusPaid, notified.Status)
}

func TestProcessOrderUnknownID(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.ProcessOrder(context.Background(), uuid.New(), orders.StatusPaid)
	require.ErrorIs(t, err, orders.ErrNotFound)
}

func TestProcessOrderRejectsNonTerminalTarget(t *testing.T) {
	h := newHarness(t)
	o := h.placePending(t, item("sku-a", 1, 500))

	_, err := h.coord.ProcessOrder(context.Background(), o.ID, orders.StatusPending)
	var trErr *orders.TransitionError
	require.ErrorAs(t, err, &trErr)
}

func TestProcessOrderBatchIsAtomic(t *testing.T) {
	// Stock 1 for both products, order wants 1xB then 2xA: the A failure
	// must also undo the staged B decrement and the status write.
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 1
	h.db.stock["sku-b"] = 1
	o := h.placePending(t, item("sku-b", 1, 300), item("sku-a", 2, 500))

	_, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	var stockErr *orders.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "sku-a", stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Required)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 1, h.db.stockOf("sku-a"))
	assert.Equal(t, 1, h.db.stockOf("sku-b"))
	assert.Equal(t, orders.StatusPending, h.db.statusOf(o.ID))
}

func TestProcessOrderDuplicateDeliveryIsNoOp(t *testing.T) {
	// Pinned policy: re-delivering the same terminal outcome succeeds
	// without writing or decrementing again.
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 5
	o := h.placePending(t, item("sku-a", 2, 500))

	_, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)
	h.waitNotified(t)

	got, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, 3, h.db.stockOf("sku-a"), "duplicate must not decrement twice")

	select {
	case <-h.notifier.calls:
		t.Fatal("duplicate delivery must not notify again")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessOrderConflictingTerminalTargets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 5
	o := h.placePending(t, item("sku-a", 1, 500))

	_, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)

	_, err = h.coord.ProcessOrder(ctx, o.ID, orders.StatusCancelled)
	var trErr *orders.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, orders.StatusPaid, trErr.From)
	assert.Equal(t, orders.StatusPaid, h.db.statusOf(o.ID))
}

func TestProcessOrderConcurrentSameOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 10
	o := h.placePending(t, item("sku-a", 1, 500))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err, "loser observes the no-op policy, not an error")
	}
	assert.Equal(t, 9, h.db.stockOf("sku-a"), "exactly one caller decrements")
	assert.Equal(t, orders.StatusPaid, h.db.statusOf(o.ID))
}

func TestProcessOrderPreventsOverselling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-last"] = 1

	const n = 5
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = h.placePending(t, item("sku-last", 1, 999)).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.coord.ProcessOrder(ctx, ids[i], orders.StatusPaid)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		if err == nil {
			won++
			assert.Equal(t, orders.StatusPaid, h.db.statusOf(ids[i]))
			continue
		}
		var stockErr *orders.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, orders.StatusPending, h.db.statusOf(ids[i]), "loser keeps prior status")
		lost++
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, lost)
	assert.Equal(t, 0, h.db.stockOf("sku-last"))
}

func TestProcessOrderNotifierFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 2
	h.notifier.err = errors.New("smtp down")
	o := h.placePending(t, item("sku-a", 1, 500))

	_, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)
	h.waitNotified(t)

	assert.Equal(t, orders.StatusPaid, h.db.statusOf(o.ID))
	assert.Equal(t, 1, h.db.stockOf("sku-a"))
}

func TestProcessOrderFailedLeavesStockAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 2
	o := h.placePending(t, item("sku-a", 2, 500))

	got, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
	assert.Equal(t, 2, h.db.stockOf("sku-a"))

	notified := h.waitNotified(t)
	assert.Equal(t, orders.StatusFailed, notified.Status)
}

func TestProcessOrderRetriesConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.stock["sku-a"] = 1
	o := h.placePending(t, item("sku-a", 1, 500))
	h.store.conflictOnce = true

	got, err := h.coord.ProcessOrder(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err, "one conflict should be absorbed by the retry loop")
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, 0, h.db.stockOf("sku-a"))
}
