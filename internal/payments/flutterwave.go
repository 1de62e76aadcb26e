package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	flutterwaveBaseURL         = "https://api.flutterwave.com"
	flutterwaveHashHeader      = "verif-hash"
	flutterwaveSignatureHeader = "flutterwave-signature"
)

// FlutterwaveConfig configures the Flutterwave processor.
type FlutterwaveConfig struct {
	SecretKey string
	// WebhookHash is the secret hash configured on the Flutterwave dashboard.
	WebhookHash string
	RESTConfig
}

// FlutterwaveProcessor talks to the Flutterwave v3 API. Amounts travel in major units.
type FlutterwaveProcessor struct {
	secret      string
	webhookHash string
	client      *resty.Client
	logger      Logger
	prefix      string
}

// NewFlutterwaveProcessor constructs a Flutterwave processor.
func NewFlutterwaveProcessor(cfg FlutterwaveConfig) (*FlutterwaveProcessor, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("flutterwave: secret key is required")
	}
	return &FlutterwaveProcessor{
		secret:      secret,
		webhookHash: strings.TrimSpace(cfg.WebhookHash),
		client:      newRESTClient(cfg.RESTConfig, flutterwaveBaseURL).SetAuthToken(secret),
		logger:      loggerOrNoop(cfg.Logger),
		prefix:      cfg.ReferencePrefix,
	}, nil
}

func (p *FlutterwaveProcessor) Name() Provider { return ProviderFlutterwave }

func (p *FlutterwaveProcessor) NewReference() string { return newReference(p.prefix) }

type flutterwaveEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type flutterwaveTransaction struct {
	ID        json.Number     `json:"id"`
	TxRef     string          `json:"tx_ref"`
	FlwRef    string          `json:"flw_ref"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Processor string          `json:"processor_response"`
}

func (p *FlutterwaveProcessor) InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	body := map[string]any{
		"tx_ref":       req.Reference,
		"amount":       req.Amount.StringFixed(2),
		"currency":     strings.ToUpper(req.Currency),
		"redirect_url": req.CallbackURL,
		"customer": map[string]string{
			"email": req.Email,
			"name":  req.CustomerName,
		},
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	var out flutterwaveEnvelope[struct {
		Link string `json:"link"`
	}]
	resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").SetBody(body).SetResult(&out).SetError(&out).Post("/v3/payments")
	if err != nil {
		return InitializeResponse{}, gatewayFailure(ProviderFlutterwave, "initialize", resp, err, "")
	}
	if resp.IsError() || out.Status != "success" || out.Data.Link == "" {
		return InitializeResponse{}, gatewayFailure(ProviderFlutterwave, "initialize", resp, nil, out.Message)
	}
	p.logger(ctx, "payments.flutterwave.initialized", map[string]any{"reference": req.Reference})
	return InitializeResponse{Reference: req.Reference, AuthorizationURL: out.Data.Link}, nil
}

func (p *FlutterwaveProcessor) VerifyPayment(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	var out flutterwaveEnvelope[flutterwaveTransaction]
	resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").
		SetQueryParam("tx_ref", req.Reference).
		SetResult(&out).SetError(&out).
		Get("/v3/transactions/verify_by_reference")
	if err != nil {
		return VerifyResponse{}, gatewayFailure(ProviderFlutterwave, "verify", resp, err, "")
	}
	if resp.IsError() || out.Status != "success" {
		return VerifyResponse{}, gatewayFailure(ProviderFlutterwave, "verify", resp, nil, out.Message)
	}
	return VerifyResponse{
		Reference:         req.Reference,
		ProviderReference: out.Data.ID.String(),
		Status:            flutterwaveStatus(out.Data.Status),
		Amount:            out.Data.Amount,
		Currency:          strings.ToUpper(out.Data.Currency),
		Message:           out.Data.Processor,
	}, nil
}

func flutterwaveStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "successful", "success", "succeeded":
		return StatusSuccess
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusAbandoned
	default:
		return StatusPending
	}
}

// VerifyWebhookSignature accepts either the dashboard secret hash or a base64 HMAC-SHA256
// of the body keyed by that hash.
func (p *FlutterwaveProcessor) VerifyWebhookSignature(payload []byte, header http.Header) error {
	if p.webhookHash == "" {
		return ErrInvalidSignature
	}
	if hash := header.Get(flutterwaveHashHeader); hash != "" {
		if signaturesEqual([]byte(p.webhookHash), hash) {
			return nil
		}
		return ErrInvalidSignature
	}
	if sig := header.Get(flutterwaveSignatureHeader); sig != "" {
		mac := hmac.New(sha256.New, []byte(p.webhookHash))
		mac.Write(payload)
		if signaturesEqual([]byte(base64.StdEncoding.EncodeToString(mac.Sum(nil))), sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

type flutterwaveWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID          json.Number     `json:"id"`
		TxRef       string          `json:"tx_ref"`
		Reference   string          `json:"reference"`
		FlwRef      string          `json:"flw_ref"`
		Status      string          `json:"status"`
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		CompleteMsg string          `json:"complete_message"`
		Reason      string          `json:"reason"`
	} `json:"data"`
}

func (p *FlutterwaveProcessor) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var hook flutterwaveWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	event := WebhookEvent{Provider: ProviderFlutterwave, Name: hook.Event}
	status := flutterwaveStatus(hook.Data.Status)
	currency := strings.ToUpper(hook.Data.Currency)

	switch hook.Event {
	case "charge.completed":
		event.Kind = EventKindPayment
		event.Payment = &PaymentWebhookData{
			Reference:         hook.Data.TxRef,
			ProviderReference: hook.Data.ID.String(),
			Status:            status,
			Amount:            hook.Data.Amount,
			Currency:          currency,
		}
	case "transfer.completed":
		reason := hook.Data.CompleteMsg
		if reason == "" {
			reason = hook.Data.Reason
		}
		event.Kind = EventKindTransfer
		event.Transfer = &TransferWebhookData{
			Reference:         hook.Data.Reference,
			ProviderReference: hook.Data.ID.String(),
			Status:            status,
			Amount:            hook.Data.Amount,
			Currency:          currency,
			Reason:            reason,
		}
	default:
		return event, fmt.Errorf("%w: %s", ErrUnsupportedEvent, hook.Event)
	}
	if eventReference(event) == "" {
		return event, fmt.Errorf("%w: %s without reference", ErrMalformedPayload, hook.Event)
	}
	return event, nil
}

var _ Processor = (*FlutterwaveProcessor)(nil)
