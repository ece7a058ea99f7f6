package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory gateway for tests and local runs. Intents are keyed
// by id; FailNext makes the next CreateIntent return a GatewayError, and
// Resolve flips an intent's state so reconciliation paths can be exercised.
type Fake struct {
	mu       sync.Mutex
	intents  map[string]IntentState
	byOrder  map[string]string // order_id -> intent_id
	failNext bool
}

func NewFake() *Fake {
	return &Fake{
		intents: make(map[string]IntentState),
		byOrder: make(map[string]string),
	}
}

func (f *Fake) FailNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *Fake) CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string, customerRef string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, &GatewayError{Op: "create_intent", Err: errors.New("simulated gateway outage")}
	}
	id := "pi_" + uuid.NewString()
	f.intents[id] = IntentPending
	if orderID := metadata["order_id"]; orderID != "" {
		f.byOrder[orderID] = id
	}
	return &Intent{ID: id, ClientSecret: id + "_secret_" + uuid.NewString()[:8]}, nil
}

func (f *Fake) IntentStatus(ctx context.Context, intentID string) (IntentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.intents[intentID]
	if !ok {
		return "", &GatewayError{Op: "intent_status", Err: fmt.Errorf("unknown intent %s", intentID)}
	}
	return state, nil
}

// Resolve marks an intent settled or failed, as the real gateway would
// after the buyer confirms.
func (f *Fake) Resolve(intentID string, state IntentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intentID] = state
}

// IntentForOrder returns the intent created for an order id, if any.
func (f *Fake) IntentForOrder(orderID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byOrder[orderID]
	return id, ok
}
