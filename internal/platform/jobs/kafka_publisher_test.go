package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/houseofkezura/backend-sub000/internal/domain"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaOrderEventPublisherWritesKeyedMessage(t *testing.T) {
	writer := &recordingWriter{}
	publisher := newKafkaPublisher(writer)

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := domain.OrderEvent{
		Type:             domain.OrderEventPaymentCompleted,
		PaymentReference: "KZ_wallet",
		Purpose:          domain.PurposeWalletTopUp,
		Amount:           decimal.NewFromInt(5000),
		Currency:         "NGN",
		OccurredAt:       occurred,
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "KZ_wallet" {
		t.Fatalf("expected reference as key without an order, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "payment.completed" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	if !msg.Time.Equal(occurred) {
		t.Fatalf("unexpected message time %s", msg.Time)
	}
	var payload domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Purpose != domain.PurposeWalletTopUp {
		t.Fatalf("unexpected purpose %q", payload.Purpose)
	}

	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestKafkaOrderEventPublisherWrapsWriteErrors(t *testing.T) {
	writer := &recordingWriter{err: errors.New("leader not available")}
	publisher := newKafkaPublisher(writer)

	err := publisher.PublishOrderEvent(context.Background(), domain.OrderEvent{Type: domain.OrderEventCreated, OrderID: "o1"})
	if err == nil || !errors.Is(err, writer.err) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestNewKafkaOrderEventPublisherValidates(t *testing.T) {
	if _, err := NewKafkaOrderEventPublisher(nil, "order-events"); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaOrderEventPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatalf("expected error without topic")
	}
}
