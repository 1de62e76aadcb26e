package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type fakeStripeSessions struct {
	newParams *stripe.CheckoutSessionParams
	session   *stripe.CheckoutSession
	err       error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.newParams = params
	return f.session, f.err
}

func (f *fakeStripeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func TestStripeInitializeUsesClientReference(t *testing.T) {
	fake := &fakeStripeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}}
	p, err := NewStripeProcessor(StripeConfig{sessions: fake})
	if err != nil {
		t.Fatalf("NewStripeProcessor: %v", err)
	}
	resp, err := p.InitializePayment(context.Background(), InitializeRequest{
		Reference:   "KZR_1",
		Amount:      decimal.RequireFromString("125.40"),
		Currency:    "USD",
		CallbackURL: "https://shop.example/payments/return",
	})
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	if resp.ProviderReference != "cs_test_1" {
		t.Fatalf("expected session id as provider reference, got %q", resp.ProviderReference)
	}
	if got := *fake.newParams.ClientReferenceID; got != "KZR_1" {
		t.Fatalf("expected client reference KZR_1, got %q", got)
	}
	if got := *fake.newParams.LineItems[0].PriceData.UnitAmount; got != 12540 {
		t.Fatalf("expected 12540 cents, got %d", got)
	}
}

func TestStripeVerifyRequiresSessionAndMapsStatus(t *testing.T) {
	fake := &fakeStripeSessions{session: &stripe.CheckoutSession{
		ID:                "cs_test_1",
		ClientReferenceID: "KZR_1",
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		Status:            stripe.CheckoutSessionStatusComplete,
		AmountTotal:       12540,
		Currency:          stripe.CurrencyUSD,
	}}
	p, _ := NewStripeProcessor(StripeConfig{sessions: fake})

	if _, err := p.VerifyPayment(context.Background(), VerifyRequest{Reference: "KZR_1"}); err == nil {
		t.Fatal("expected error without session id")
	}
	resp, err := p.VerifyPayment(context.Background(), VerifyRequest{Reference: "KZR_1", ProviderReference: "cs_test_1"})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if resp.Status != StatusSuccess || !resp.Amount.Equal(decimal.RequireFromString("125.40")) || resp.Currency != "USD" {
		t.Fatalf("unexpected response %+v", resp)
	}

	fake.session.ClientReferenceID = "someone-else"
	if _, err := p.VerifyPayment(context.Background(), VerifyRequest{Reference: "KZR_1", ProviderReference: "cs_test_1"}); err == nil {
		t.Fatal("expected mismatched client reference to fail")
	}
}

func TestStripeWebhookSignatureAndParse(t *testing.T) {
	p, _ := NewStripeProcessor(StripeConfig{sessions: &fakeStripeSessions{}, WebhookSecret: "whsec_test"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session","client_reference_id":"KZR_1","payment_status":"paid","status":"complete","amount_total":12540,"currency":"usd"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)
	if err := p.VerifyWebhookSignature(payload, header); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	header.Set("Stripe-Signature", "t=1,v1=bad")
	if err := p.VerifyWebhookSignature(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	event, err := p.ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Payment == nil || event.Payment.Reference != "KZR_1" || event.Payment.Status != StatusSuccess {
		t.Fatalf("unexpected event %+v", event.Payment)
	}

	if _, err := p.ParseWebhookEvent([]byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{}}}`)); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
}
