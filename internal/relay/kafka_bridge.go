package relay

import (
	"context"

	"github.com/example/integration-relay/internal/kafka/consumer"
)

// KafkaHandler adapts a state machine to the consumer callback shape,
// translating consumer records and binding their acknowledgment. The
// retryDelivery flag is fixed per subscription: one bridge instance serves
// the primary lane, another the retry lane.
func KafkaHandler(h *Handler, cons *consumer.Consumer, retryDelivery bool) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if h == nil || rec == nil {
			return nil
		}

		ack := func(context.Context) error { return nil }
		if cons != nil {
			ack = func(c context.Context) error {
				return cons.Ack(c, rec)
			}
		}

		r := NewRecord(rec.Topic, rec.Partition, rec.Offset, rec.Key, rec.Value, rec.Timestamp, ack)
		return h.Handle(ctx, r, retryDelivery)
	}
}
