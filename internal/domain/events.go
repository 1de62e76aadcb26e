package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEventType names an order lifecycle notification.
type OrderEventType string

const (
	OrderEventCreated          OrderEventType = "order.created"
	OrderEventPaid             OrderEventType = "order.paid"
	OrderEventStatusChanged    OrderEventType = "order.status_changed"
	OrderEventPaymentCompleted OrderEventType = "payment.completed"
)

// OrderEvent is published after the state change it describes has committed.
type OrderEvent struct {
	Type             OrderEventType  `json:"type"`
	OrderID          string          `json:"orderId,omitempty"`
	UserID           string          `json:"userId,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	Purpose          PurposeKind     `json:"purpose,omitempty"`
	Status           string          `json:"status,omitempty"`
	PreviousStatus   string          `json:"previousStatus,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency,omitempty"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

// Key returns the partitioning key for ordered delivery.
func (e OrderEvent) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.PaymentReference
}
