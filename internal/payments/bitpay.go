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
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	bitpayLiveURL         = "https://bitpay.com"
	bitpayTestURL         = "https://test.bitpay.com"
	bitpaySignatureHeader = "x-signature"
	bitpayAPIVersion      = "2.0.0"
)

// BitPayConfig configures the BitPay processor.
type BitPayConfig struct {
	Token           string
	NotificationURL string
	Test            bool
	RESTConfig
}

// BitPayProcessor creates and polls BitPay invoices. The invoice id is the provider reference.
type BitPayProcessor struct {
	token           string
	notificationURL string
	client          *resty.Client
	logger          Logger
	prefix          string
}

// NewBitPayProcessor constructs a BitPay processor.
func NewBitPayProcessor(cfg BitPayConfig) (*BitPayProcessor, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("bitpay: token is required")
	}
	base := bitpayLiveURL
	if cfg.Test {
		base = bitpayTestURL
	}
	return &BitPayProcessor{
		token:           token,
		notificationURL: strings.TrimSpace(cfg.NotificationURL),
		client:          newRESTClient(cfg.RESTConfig, base).SetHeader("X-Accept-Version", bitpayAPIVersion),
		logger:          loggerOrNoop(cfg.Logger),
		prefix:          cfg.ReferencePrefix,
	}, nil
}

func (p *BitPayProcessor) Name() Provider { return ProviderBitPay }

func (p *BitPayProcessor) NewReference() string { return newReference(p.prefix) }

type bitpayInvoice struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Status   string          `json:"status"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	OrderID  string          `json:"orderId"`
}

type bitpayEnvelope[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error"`
}

func (p *BitPayProcessor) InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	body := map[string]any{
		"token":       p.token,
		"price":       req.Amount.StringFixed(2),
		"currency":    strings.ToUpper(req.Currency),
		"orderId":     req.Reference,
		"redirectURL": req.CallbackURL,
		"buyer": map[string]string{
			"email": req.Email,
			"name":  req.CustomerName,
		},
	}
	if p.notificationURL != "" {
		body["notificationURL"] = p.notificationURL
	}
	if len(req.Metadata) > 0 {
		if posData, err := json.Marshal(req.Metadata); err == nil {
			body["posData"] = string(posData)
		}
	}

	var out bitpayEnvelope[bitpayInvoice]
	resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").SetBody(body).SetResult(&out).SetError(&out).Post("/invoices")
	if err != nil {
		return InitializeResponse{}, gatewayFailure(ProviderBitPay, "initialize", resp, err, "")
	}
	if resp.IsError() || out.Data.ID == "" {
		return InitializeResponse{}, gatewayFailure(ProviderBitPay, "initialize", resp, nil, out.Error)
	}
	p.logger(ctx, "payments.bitpay.invoice_created", map[string]any{"reference": req.Reference, "invoiceId": out.Data.ID})
	return InitializeResponse{
		Reference:         req.Reference,
		ProviderReference: out.Data.ID,
		AuthorizationURL:  out.Data.URL,
	}, nil
}

func (p *BitPayProcessor) VerifyPayment(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	invoice, err := p.fetchInvoice(ctx, req)
	if err != nil {
		return VerifyResponse{}, err
	}
	return VerifyResponse{
		Reference:         req.Reference,
		ProviderReference: invoice.ID,
		Status:            bitpayStatus(invoice.Status),
		Amount:            invoice.Price,
		Currency:          strings.ToUpper(invoice.Currency),
		Message:           invoice.Status,
	}, nil
}

func (p *BitPayProcessor) fetchInvoice(ctx context.Context, req VerifyRequest) (bitpayInvoice, error) {
	if req.ProviderReference != "" {
		var out bitpayEnvelope[bitpayInvoice]
		resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").
			SetQueryParam("token", p.token).
			SetResult(&out).SetError(&out).
			Get("/invoices/" + url.PathEscape(req.ProviderReference))
		if err != nil {
			return bitpayInvoice{}, gatewayFailure(ProviderBitPay, "verify", resp, err, "")
		}
		if resp.IsError() {
			return bitpayInvoice{}, gatewayFailure(ProviderBitPay, "verify", resp, nil, out.Error)
		}
		return out.Data, nil
	}

	var out bitpayEnvelope[[]bitpayInvoice]
	resp, err := p.client.R().SetContext(ctx).ForceContentType("application/json").
		SetQueryParams(map[string]string{"token": p.token, "orderId": req.Reference}).
		SetResult(&out).SetError(&out).
		Get("/invoices")
	if err != nil {
		return bitpayInvoice{}, gatewayFailure(ProviderBitPay, "verify", resp, err, "")
	}
	if resp.IsError() {
		return bitpayInvoice{}, gatewayFailure(ProviderBitPay, "verify", resp, nil, out.Error)
	}
	if len(out.Data) == 0 {
		return bitpayInvoice{}, &GatewayError{Provider: ProviderBitPay, Operation: "verify", StatusCode: http.StatusNotFound, Message: "no invoice for order " + req.Reference}
	}
	return out.Data[0], nil
}

func bitpayStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "confirmed", "complete":
		return StatusSuccess
	case "expired":
		return StatusAbandoned
	case "invalid", "declined":
		return StatusFailed
	default:
		return StatusPending
	}
}

// VerifyWebhookSignature checks the base64 HMAC-SHA256 of the body keyed by the merchant token.
func (p *BitPayProcessor) VerifyWebhookSignature(payload []byte, header http.Header) error {
	provided := header.Get(bitpaySignatureHeader)
	if provided == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(p.token))
	mac.Write(payload)
	if !signaturesEqual([]byte(base64.StdEncoding.EncodeToString(mac.Sum(nil))), provided) {
		return ErrInvalidSignature
	}
	return nil
}

type bitpayWebhook struct {
	Event *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"event"`
	Data *bitpayInvoice `json:"data"`
	bitpayInvoice
}

func (p *BitPayProcessor) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var hook bitpayWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	invoice := hook.bitpayInvoice
	if hook.Data != nil {
		invoice = *hook.Data
	}
	name := "invoice_" + strings.ToLower(invoice.Status)
	if hook.Event != nil && hook.Event.Name != "" {
		name = hook.Event.Name
	}
	if invoice.OrderID == "" {
		return WebhookEvent{Provider: ProviderBitPay, Name: name}, fmt.Errorf("%w: invoice without orderId", ErrMalformedPayload)
	}
	return WebhookEvent{
		Provider: ProviderBitPay,
		Name:     name,
		Kind:     EventKindPayment,
		Payment: &PaymentWebhookData{
			Reference:         invoice.OrderID,
			ProviderReference: invoice.ID,
			Status:            bitpayStatus(invoice.Status),
			Amount:            invoice.Price,
			Currency:          strings.ToUpper(invoice.Currency),
		},
	}, nil
}

var _ Processor = (*BitPayProcessor)(nil)
