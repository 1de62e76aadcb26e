package payments

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a payment gateway.
type Provider string

const (
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
	ProviderBitPay      Provider = "bitpay"
	ProviderStripe      Provider = "stripe"
)

// ParseProvider normalises a provider name.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderPaystack, ProviderFlutterwave, ProviderBitPay, ProviderStripe:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
}

// Status enumerates the normalised gateway payment states.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	StatusPending   Status = "pending"
)

var (
	// ErrUnsupportedProvider is returned when no processor is registered for a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrUnsupportedEvent is returned for webhook events the service does not act on.
	ErrUnsupportedEvent = errors.New("payments: unsupported webhook event")
	// ErrMalformedPayload is returned when a gateway payload cannot be decoded.
	ErrMalformedPayload = errors.New("payments: malformed payload")
)

// GatewayError describes a failed call to a gateway API.
type GatewayError struct {
	Provider   Provider
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s failed with status %d: %s", e.Provider, e.Operation, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Provider, e.Operation, msg)
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InitializeRequest starts a hosted payment.
type InitializeRequest struct {
	Reference    string
	Email        string
	CustomerName string
	Amount       decimal.Decimal
	Currency     string
	CallbackURL  string
	Metadata     map[string]string
}

// InitializeResponse carries what the payer needs to complete the payment.
type InitializeResponse struct {
	Reference         string
	ProviderReference string
	AuthorizationURL  string
	AccessCode        string
}

// VerifyRequest identifies a payment to re-fetch from the gateway.
type VerifyRequest struct {
	Reference         string
	ProviderReference string
}

// VerifyResponse is the gateway view of a payment. Amount is in major units.
type VerifyResponse struct {
	Reference         string
	ProviderReference string
	Status            Status
	Amount            decimal.Decimal
	Currency          string
	PaidAt            *time.Time
	Message           string
}

// EventKind separates inbound payment events from outbound transfer events.
type EventKind string

const (
	EventKindPayment  EventKind = "payment"
	EventKindTransfer EventKind = "transfer"
)

// PaymentWebhookData is the normalised body of a payment event.
type PaymentWebhookData struct {
	Reference         string
	ProviderReference string
	Status            Status
	Amount            decimal.Decimal
	Currency          string
}

// TransferWebhookData is the normalised body of a transfer event.
type TransferWebhookData struct {
	Reference         string
	ProviderReference string
	Status            Status
	Amount            decimal.Decimal
	Currency          string
	Reason            string
}

// WebhookEvent is a verified, parsed gateway notification. Exactly one of Payment or
// Transfer is set, matching Kind.
type WebhookEvent struct {
	Provider Provider
	Name     string
	Kind     EventKind
	Payment  *PaymentWebhookData
	Transfer *TransferWebhookData
}

// Processor is the capability set every gateway adapter implements.
type Processor interface {
	Name() Provider
	NewReference() string
	InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResponse, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (VerifyResponse, error)
	VerifyWebhookSignature(payload []byte, header http.Header) error
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)
}

// Logger receives structured processor events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount (naira, dollars) to kobo or cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts kobo or cents to a major-unit amount.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func signaturesEqual(expected []byte, provided string) bool {
	return hmac.Equal(expected, []byte(strings.TrimSpace(provided)))
}
