package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"orderflow/internal/fulfillment"
	"orderflow/internal/orders"
	"orderflow/internal/payment"
	"orderflow/internal/redisx"
)

// OrderService is the slice of the coordinator this surface needs.
type OrderService interface {
	PlaceOrder(ctx context.Context, in fulfillment.PlaceOrderInput) (*fulfillment.PlaceOrderResult, error)
	ProcessOrder(ctx context.Context, id uuid.UUID, target orders.Status) (*orders.Order, error)
}

type OrderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*orders.Order, error)
}

type OrdersHandler struct {
	Service OrderService
	Reader  OrderReader
	Redis   *redis.Client // optional; cache and webhook dedup degrade to off
	Log     *slog.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/webhooks/payment", h.paymentWebhook)
}

type CreateOrderReq struct {
	CustomerID string            `json:"customer_id"`
	PaymentRef string            `json:"payment_ref"`
	Items      []orders.LineItem `json:"items"`
}

type CreateOrderResp struct {
	OrderID      string `json:"order_id"`
	TotalCents   int64  `json:"total_cents"`
	ClientSecret string `json:"client_secret"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.CustomerID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := h.Service.PlaceOrder(ctx, fulfillment.PlaceOrderInput{
		CustomerID: req.CustomerID,
		PaymentRef: req.PaymentRef,
		Items:      req.Items,
	})
	if err != nil {
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) {
			// The order exists and stays PENDING; the caller may retry
			// checkout or wait for reconciliation.
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment initiation failed"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.cacheStatus(ctx, res.Order)
	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:      res.Order.ID.String(),
		TotalCents:   res.Order.TotalCents,
		ClientSecret: res.ClientSecret,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, id)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Reader.FindByID(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Service.ProcessOrder(ctx, id, orders.StatusCancelled)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

// PaymentWebhookReq mirrors the gateway's callback shape. Deliveries may
// arrive more than once; event_id is the dedup handle.
type PaymentWebhookReq struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

func (h *OrdersHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	id, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var target orders.Status
	switch req.Type {
	case "payment_intent.succeeded":
		target = orders.StatusPaid
	case "payment_intent.payment_failed":
		target = orders.StatusFailed
	default:
		// Unknown event types are acknowledged so the gateway stops
		// redelivering them.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if h.Redis != nil && req.EventID != "" {
		key := fmt.Sprintf(redisx.KeyWebhookDedup, req.EventID)
		fresh, err := redisx.ClaimOnce(ctx, h.Redis, key, redisx.TTLDedup)
		if err == nil && !fresh {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	o, err := h.Service.ProcessOrder(ctx, id, target)
	if err != nil {
		var trErr *orders.TransitionError
		if errors.As(err, &trErr) {
			// Already in a terminal state; ack so the gateway stops retrying.
			h.Log.Info("webhook for settled order acknowledged", "order_id", id, "from", trErr.From, "to", trErr.To)
			writeJSON(w, http.StatusOK, map[string]string{"status": "already_settled"})
			return
		}
		h.writeProcessError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *OrdersHandler) writeProcessError(w http.ResponseWriter, err error) {
	var stockErr *orders.InsufficientStockError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"required":   stockErr.Required,
			"available":  stockErr.Available,
		})
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict, retry"})
	default:
		var trErr *orders.TransitionError
		if errors.As(err, &trErr) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": trErr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}
