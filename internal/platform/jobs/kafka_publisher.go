package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/houseofkezura/backend-sub000/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOrderEventPublisher publishes order lifecycle events to a Kafka topic keyed by order id.
type KafkaOrderEventPublisher struct {
	writer  messageWriter
	marshal func(any) ([]byte, error)
}

// NewKafkaOrderEventPublisher constructs a publisher writing to topic on the given brokers.
func NewKafkaOrderEventPublisher(brokers []string, topic string) (*KafkaOrderEventPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka order event publisher: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka order event publisher: topic is required")
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           5 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaOrderEventPublisher {
	return &KafkaOrderEventPublisher{writer: writer, marshal: json.Marshal}
}

// PublishOrderEvent implements services.EventPublisher.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka order event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases broker connections.
func (p *KafkaOrderEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
