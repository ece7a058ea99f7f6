package redisx

import "time"

const (
	// Webhook delivery dedup: dedup:webhook:{event_id}
	KeyWebhookDedup = "dedup:webhook:%s"

	// Cached order status: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
)
