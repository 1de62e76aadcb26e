package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	paystackBaseURL         = "https://api.paystack.co"
	paystackSignatureHeader = "x-paystack-signature"
)

// PaystackConfig configures the Paystack processor.
type PaystackConfig struct {
	SecretKey string
	RESTConfig
}

// PaystackProcessor talks to the Paystack transaction API. Amounts travel in kobo.
type PaystackProcessor struct {
	secret string
	client *resty.Client
	logger Logger
	prefix string
}

// NewPaystackProcessor constructs a Paystack processor.
func NewPaystackProcessor(cfg PaystackConfig) (*PaystackProcessor, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	client := newRESTClient(cfg.RESTConfig, paystackBaseURL).SetAuthToken(secret)
	return &PaystackProcessor{
		secret: secret,
		client: client,
		logger: loggerOrNoop(cfg.Logger),
		prefix: cfg.ReferencePrefix,
	}, nil
}

func (p *PaystackProcessor) Name() Provider { return ProviderPaystack }

func (p *PaystackProcessor) NewReference() string { return newReference(p.prefix) }

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
}

func (p *PaystackProcessor) InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    ToMinorUnits(req.Amount),
		"reference": req.Reference,
		"currency":  strings.ToUpper(req.Currency),
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out paystackEnvelope[paystackInitData]
	resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").SetBody(body).SetResult(&out).SetError(&out).Post("/transaction/initialize")
	if err != nil {
		return InitializeResponse{}, gatewayFailure(ProviderPaystack, "initialize", resp, err, "")
	}
	if resp.IsError() || !out.Status {
		return InitializeResponse{}, gatewayFailure(ProviderPaystack, "initialize", resp, nil, out.Message)
	}

	p.logger(ctx, "payments.paystack.initialized", map[string]any{"reference": req.Reference})
	reference := out.Data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return InitializeResponse{
		Reference:         reference,
		ProviderReference: out.Data.AccessCode,
		AuthorizationURL:  out.Data.AuthorizationURL,
		AccessCode:        out.Data.AccessCode,
	}, nil
}

func (p *PaystackProcessor) VerifyPayment(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	var out paystackEnvelope[paystackTransaction]
	resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").SetResult(&out).SetError(&out).
		Get("/transaction/verify/" + url.PathEscape(req.Reference))
	if err != nil {
		return VerifyResponse{}, gatewayFailure(ProviderPaystack, "verify", resp, err, "")
	}
	if resp.IsError() || !out.Status {
		return VerifyResponse{}, gatewayFailure(ProviderPaystack, "verify", resp, nil, out.Message)
	}

	result := VerifyResponse{
		Reference:         req.Reference,
		ProviderReference: fmt.Sprint(out.Data.ID),
		Status:            paystackStatus(out.Data.Status),
		Amount:            FromMinorUnits(out.Data.Amount),
		Currency:          strings.ToUpper(out.Data.Currency),
		Message:           out.Data.GatewayResponse,
	}
	if paidAt, err := time.Parse(time.RFC3339, out.Data.PaidAt); err == nil {
		paidAt = paidAt.UTC()
		result.PaidAt = &paidAt
	}
	return result, nil
}

func paystackStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return StatusSuccess
	case "failed", "reversed":
		return StatusFailed
	case "abandoned":
		return StatusAbandoned
	default:
		return StatusPending
	}
}

// VerifyWebhookSignature checks the hex HMAC-SHA512 of the raw body keyed by the secret key.
func (p *PaystackProcessor) VerifyWebhookSignature(payload []byte, header http.Header) error {
	provided := header.Get(paystackSignatureHeader)
	if provided == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !signaturesEqual([]byte(expected), strings.ToLower(provided)) {
		return ErrInvalidSignature
	}
	return nil
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID            json.Number `json:"id"`
		Reference     string      `json:"reference"`
		TransferCode  string      `json:"transfer_code"`
		Status        string      `json:"status"`
		Amount        int64       `json:"amount"`
		Currency      string      `json:"currency"`
		Reason        string      `json:"reason"`
		FailureReason string      `json:"failure_reason"`
	} `json:"data"`
}

func (p *PaystackProcessor) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var hook paystackWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	event := WebhookEvent{Provider: ProviderPaystack, Name: hook.Event}
	amount := FromMinorUnits(hook.Data.Amount)
	currency := strings.ToUpper(hook.Data.Currency)

	switch hook.Event {
	case "charge.success":
		event.Kind = EventKindPayment
		event.Payment = &PaymentWebhookData{
			Reference:         hook.Data.Reference,
			ProviderReference: hook.Data.ID.String(),
			Status:            StatusSuccess,
			Amount:            amount,
			Currency:          currency,
		}
	case "transfer.success", "transfer.failed", "transfer.reversed":
		status := StatusSuccess
		if hook.Event != "transfer.success" {
			status = StatusFailed
		}
		reason := hook.Data.FailureReason
		if reason == "" {
			reason = hook.Data.Reason
		}
		event.Kind = EventKindTransfer
		event.Transfer = &TransferWebhookData{
			Reference:         hook.Data.Reference,
			ProviderReference: hook.Data.TransferCode,
			Status:            status,
			Amount:            amount,
			Currency:          currency,
			Reason:            reason,
		}
	default:
		return event, fmt.Errorf("%w: %s", ErrUnsupportedEvent, hook.Event)
	}
	if reference := eventReference(event); reference == "" {
		return event, fmt.Errorf("%w: %s without reference", ErrMalformedPayload, hook.Event)
	}
	return event, nil
}

func eventReference(event WebhookEvent) string {
	switch {
	case event.Payment != nil:
		return event.Payment.Reference
	case event.Transfer != nil:
		return event.Transfer.Reference
	default:
		return ""
	}
}

var _ Processor = (*PaystackProcessor)(nil)
