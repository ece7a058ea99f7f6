package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "orderflow/internal/kafka"
	"orderflow/internal/orders"
)

// Kafka publishes an OrderFinalized envelope once the coordinator commits.
// Publishing is buffered and asynchronous: a committed order never waits on
// the broker, and delivery problems surface in the producer's log, not here.
type Kafka struct {
	Producer *kafkax.Producer
	Service  string
}

func (n *Kafka) OrderFinalized(ctx context.Context, o *orders.Order) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderFinalized,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: o.ID.String(),
		Payload: kafkax.MustMarshal(orders.OrderFinalizedPayload{
			OrderID:     o.ID.String(),
			CustomerID:  o.CustomerID,
			FinalStatus: o.Status,
			TotalCents:  o.TotalCents,
			Items:       o.Items,
		}),
	}
	n.Producer.Publish(orders.PartitionKey(o.ID.String()), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderFinalized)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
