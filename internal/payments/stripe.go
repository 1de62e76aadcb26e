package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the Stripe processor.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	CancelURL     string
	Backends      *stripe.Backends
	Logger        Logger
	// ReferencePrefix is prepended to generated payment references.
	ReferencePrefix string

	sessions stripeSessionAPI
}

// StripeProcessor settles payments through Stripe Checkout sessions. The session id is the
// provider reference and the local reference travels as client_reference_id.
type StripeProcessor struct {
	sessions      stripeSessionAPI
	webhookSecret string
	account       string
	cancelURL     string
	logger        Logger
	prefix        string
}

// NewStripeProcessor constructs a Stripe processor.
func NewStripeProcessor(cfg StripeConfig) (*StripeProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	sessions := cfg.sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}
	return &StripeProcessor{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		cancelURL:     strings.TrimSpace(cfg.CancelURL),
		logger:        loggerOrNoop(cfg.Logger),
		prefix:        cfg.ReferencePrefix,
	}, nil
}

func (p *StripeProcessor) Name() Provider { return ProviderStripe }

func (p *StripeProcessor) NewReference() string { return newReference(p.prefix) }

func (p *StripeProcessor) InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	cancelURL := p.cancelURL
	if cancelURL == "" {
		cancelURL = req.CallbackURL
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.CallbackURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(ToMinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.Reference),
				},
			},
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Metadata = map[string]string{"reference": req.Reference}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return InitializeResponse{}, stripeFailure("initialize", err)
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"reference": req.Reference,
	})
	return InitializeResponse{
		Reference:         req.Reference,
		ProviderReference: session.ID,
		AuthorizationURL:  session.URL,
	}, nil
}

func (p *StripeProcessor) VerifyPayment(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	if strings.TrimSpace(req.ProviderReference) == "" {
		return VerifyResponse{}, &GatewayError{Provider: ProviderStripe, Operation: "verify", Message: "checkout session id is required"}
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(req.ProviderReference, params)
	if err != nil {
		return VerifyResponse{}, stripeFailure("verify", err)
	}
	if session.ClientReferenceID != "" && session.ClientReferenceID != req.Reference {
		return VerifyResponse{}, &GatewayError{Provider: ProviderStripe, Operation: "verify", Message: "session belongs to another reference"}
	}
	return VerifyResponse{
		Reference:         req.Reference,
		ProviderReference: session.ID,
		Status:            stripeSessionStatus(session),
		Amount:            FromMinorUnits(session.AmountTotal),
		Currency:          strings.ToUpper(string(session.Currency)),
		Message:           string(session.PaymentStatus),
	}, nil
}

func stripeSessionStatus(session *stripe.CheckoutSession) Status {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusSuccess
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return StatusAbandoned
	default:
		return StatusPending
	}
}

func stripeFailure(op string, err error) *GatewayError {
	ge := &GatewayError{Provider: ProviderStripe, Operation: op, Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		ge.StatusCode = stripeErr.HTTPStatusCode
		ge.Message = stripeErr.Msg
	}
	return ge
}

// VerifyWebhookSignature validates the Stripe-Signature header, including its timestamp tolerance.
func (p *StripeProcessor) VerifyWebhookSignature(payload []byte, header http.Header) error {
	if p.webhookSecret == "" {
		return ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, header.Get(stripeSignatureHeader), p.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (p *StripeProcessor) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	event := WebhookEvent{Provider: ProviderStripe, Name: string(evt.Type)}

	var status Status
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status = StatusSuccess
	case "checkout.session.async_payment_failed":
		status = StatusFailed
	case "checkout.session.expired":
		status = StatusAbandoned
	default:
		return event, fmt.Errorf("%w: %s", ErrUnsupportedEvent, evt.Type)
	}
	if evt.Data == nil {
		return event, fmt.Errorf("%w: %s without data", ErrMalformedPayload, evt.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// A completed session may still await an asynchronous payment method.
	if status == StatusSuccess && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		status = StatusPending
	}
	reference := session.ClientReferenceID
	if reference == "" {
		reference = session.Metadata["reference"]
	}
	if reference == "" {
		return event, fmt.Errorf("%w: session %s without reference", ErrMalformedPayload, session.ID)
	}
	event.Kind = EventKindPayment
	event.Payment = &PaymentWebhookData{
		Reference:         reference,
		ProviderReference: session.ID,
		Status:            status,
		Amount:            FromMinorUnits(session.AmountTotal),
		Currency:          strings.ToUpper(string(session.Currency)),
	}
	return event, nil
}

var _ Processor = (*StripeProcessor)(nil)
