package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "orderflow/internal/kafka"
	"orderflow/internal/orders"
)

// Mailer delivers the customer-facing confirmation. Real delivery belongs
// to an external collaborator; LogMailer stands in for it.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, p orders.OrderFinalizedPayload) error
}

type LogMailer struct{ Log *slog.Logger }

func (m *LogMailer) SendOrderConfirmation(ctx context.Context, p orders.OrderFinalizedPayload) error {
	m.Log.Info("order confirmation dispatched",
		"order_id", p.OrderID, "customer_id", p.CustomerID, "final_status", p.FinalStatus)
	return nil
}

// Dispatcher consumes finalized-order envelopes and hands them to the
// mailer. Installed as the Kafka consumer handler.
type Dispatcher struct {
	Mailer Mailer
	Log    *slog.Logger
}

func (d *Dispatcher) HandleFinalized(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderFinalized {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderFinalizedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := d.Mailer.SendOrderConfirmation(ctx, p); err != nil {
		d.Log.Warn("confirmation delivery failed", "order_id", p.OrderID, "err", err)
		return err
	}
	return nil
}
