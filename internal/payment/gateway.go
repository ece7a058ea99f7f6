package payment

import (
	"context"
	"fmt"
)

// Intent is the gateway's handle for an authorized-but-unconfirmed charge.
// The client secret goes back to the buyer's client for confirmation.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentSucceeded IntentState = "succeeded"
	IntentFailed    IntentState = "failed"
)

// Gateway creates payment intents. Metadata carries the order id so
// reconciliation tooling can match intents back to orders; the gateway
// itself performs no deduplication.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string, customerRef string) (*Intent, error)
	IntentStatus(ctx context.Context, intentID string) (IntentState, error)
}

// GatewayError covers every way talking to the gateway can fail. The order
// the intent was for stays PENDING; callers retry or leave it to the
// reconciliation sweep.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }
