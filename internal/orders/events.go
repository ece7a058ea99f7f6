package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderFinalized = "OrderFinalized"
)

// Envelope wraps every event on the wire; the payload stays raw so
// consumers decode only the types they care about.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderFinalizedPayload struct {
	OrderID     string     `json:"order_id"`
	CustomerID  string     `json:"customer_id"`
	FinalStatus Status     `json:"final_status"` // PAID | FAILED | CANCELLED
	TotalCents  int64      `json:"total_cents"`
	Items       []LineItem `json:"items,omitempty"`
}
