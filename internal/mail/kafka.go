package mail

import (
	"context"
	"fmt"

	"github.com/iamrehman16/DataTricks-Team-Server/pkg/kafka"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

// Topic carries outbound mail for the mailer worker.
var Topic = kafka.Topic("mail", "outbound")

// EventType names the envelope of a queued message.
const EventType = "mail.outbound"

type publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// KafkaSender hands messages to the mailer worker through Kafka. Delivery
// happens in cmd/mailer.
type KafkaSender struct {
	producer publisher
	source   string
}

// NewKafkaSender creates a KafkaSender publishing as source.
func NewKafkaSender(producer *kafka.Producer, source string) *KafkaSender {
	return &KafkaSender{producer: producer, source: source}
}

func (s *KafkaSender) Name() string { return "kafka" }

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	event, err := kafka.NewEvent(EventType, msg.To, "mail", s.source, msg)
	if err != nil {
		return err
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))
	if err := s.producer.Publish(ctx, Topic, event); err != nil {
		return fmt.Errorf("queue mail: %w", err)
	}
	return nil
}

// DeliveryHandler decodes queued messages and sends them with sender. It is
// the consumer side of KafkaSender.
func DeliveryHandler(sender Sender) kafka.Handler {
	return func(ctx context.Context, event *kafka.Event) error {
		if event.EventType != EventType {
			return nil
		}
		var msg Message
		if err := event.UnmarshalData(&msg); err != nil {
			return fmt.Errorf("decode mail event %s: %w", event.EventID, err)
		}
		if err := sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("deliver mail event %s via %s: %w", event.EventID, sender.Name(), err)
		}
		return nil
	}
}
