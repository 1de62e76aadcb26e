package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

const (
	maxPaymentRequestBody = 8 * 1024
	maxWebhookBody        = 256 * 1024
)

// PaymentHandlers exposes payment initialization, verification and gateway webhooks.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: payments}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/initialize", h.initialize)
	r.Get("/verify/{reference}", h.verify)
}

// WebhookRoutes registers the gateway notification endpoint.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{provider}", h.webhook)
}

// AdminRoutes registers transfer bookkeeping under an admin-only group.
func (h *PaymentHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/transfers", h.recordTransfer)
}

type initializePaymentRequest struct {
	Purpose        string            `json:"purpose"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Email          string            `json:"email"`
	CustomerName   string            `json:"customer_name"`
	OrderID        string            `json:"order_id"`
	SubscriptionID string            `json:"subscription_id"`
	CallbackURL    string            `json:"callback_url"`
	Metadata       map[string]string `json:"metadata"`
}

type initializePaymentResponse struct {
	Reference        string `json:"reference"`
	Provider         string `json:"provider"`
	Status           string `json:"status"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
}

type verifyPaymentResponse struct {
	Reference          string `json:"reference"`
	Provider           string `json:"provider"`
	Status             string `json:"status"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Purpose            string `json:"purpose,omitempty"`
	AlreadyProcessed   bool   `json:"already_processed"`
	AutoAccountCreated bool   `json:"auto_account_created"`
}

type webhookResponse struct {
	Status           string `json:"status"`
	Provider         string `json:"provider"`
	Event            string `json:"event,omitempty"`
	Reference        string `json:"reference,omitempty"`
	Ignored          bool   `json:"ignored,omitempty"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

type recordTransferRequest struct {
	Reference string `json:"reference"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Narration string `json:"narration"`
}

type transferResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (h *PaymentHandlers) initialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req initializePaymentRequest
	if !decodeJSONBody(w, r, maxPaymentRequestBody, &req) {
		return
	}

	caller := callerFromRequest(r)
	var purpose domain.PaymentPurpose
	switch domain.PurposeKind(strings.ToLower(strings.TrimSpace(req.Purpose))) {
	case "", domain.PurposeWalletTopUp:
		purpose = domain.WalletTopUp{}
	case domain.PurposeSubscription:
		purpose = domain.SubscriptionRenewal{SubscriptionID: strings.TrimSpace(req.SubscriptionID)}
	case domain.PurposeOrderPayment:
		purpose = domain.OrderPayment{OrderID: strings.TrimSpace(req.OrderID), GuestToken: caller.GuestToken}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "purpose must be wallet_top_up, subscription or order_payment", http.StatusBadRequest))
		return
	}
	if purpose.Kind() != domain.PurposeOrderPayment && !caller.IsAuthenticated() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	amount := decimal.Zero
	if strings.TrimSpace(req.Amount) != "" || purpose.Kind() != domain.PurposeOrderPayment {
		parsed, err := parseMoney(req.Amount)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		amount = parsed
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = identityEmail(ctx)
	}

	result, err := h.payments.Initialize(ctx, services.InitializePaymentCommand{
		UserID:       caller.UserID,
		Email:        email,
		CustomerName: strings.TrimSpace(req.CustomerName),
		Amount:       amount,
		Currency:     req.Currency,
		Purpose:      purpose,
		CallbackURL:  strings.TrimSpace(req.CallbackURL),
		Metadata:     req.Metadata,
	})
	if err != nil {
		details := map[string]any{}
		if result.Reference != "" {
			details["reference"] = result.Reference
		}
		writePaymentError(ctx, w, err, details)
		return
	}

	writeJSONResponse(w, http.StatusOK, initializePaymentResponse{
		Reference:        result.Reference,
		Provider:         result.Provider,
		Status:           string(result.Status),
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
	})
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.payments.Verify(ctx, strings.TrimSpace(chi.URLParam(r, "reference")))
	if err != nil {
		writePaymentError(ctx, w, err, nil)
		return
	}

	resp := verifyPaymentResponse{
		Reference:          result.Reference,
		Provider:           result.Provider,
		Status:             string(result.Status),
		Amount:             formatMoney(result.Amount),
		Currency:           result.Currency,
		AlreadyProcessed:   result.AlreadyProcessed,
		AutoAccountCreated: result.Promotion.Created,
	}
	if result.Purpose != nil {
		resp.Purpose = string(result.Purpose.Kind())
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), status))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	result, err := h.payments.HandleWebhook(ctx, provider, payload, r.Header)
	if err != nil {
		writePaymentError(ctx, w, err, nil)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Status:           "ok",
		Provider:         result.Provider,
		Event:            result.Event,
		Reference:        result.Reference,
		Ignored:          result.Ignored,
		AlreadyProcessed: result.AlreadyProcessed,
	})
}

func (h *PaymentHandlers) recordTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req recordTransferRequest
	if !decodeJSONBody(w, r, maxPaymentRequestBody, &req) {
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	txn, err := h.payments.RecordTransfer(ctx, services.RecordTransferCommand{
		Reference: req.Reference,
		UserID:    req.UserID,
		Amount:    amount,
		Currency:  req.Currency,
		Narration: req.Narration,
	})
	if err != nil {
		writePaymentError(ctx, w, err, nil)
		return
	}

	writeJSONResponse(w, http.StatusCreated, transferResponse{
		Reference: txn.Reference,
		Status:    string(txn.Status),
		Amount:    formatMoney(txn.Amount),
		Currency:  txn.Currency,
		CreatedAt: formatTime(txn.CreatedAt),
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error, details map[string]any) {
	var missing *services.TransactionMissingError
	var apiErr httpx.Error
	switch {
	case errors.As(err, &missing):
		apiErr = httpx.NewError("transaction_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrPaymentInvalidSignature):
		apiErr = httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized)
	case errors.Is(err, services.ErrPaymentUnknownProvider):
		apiErr = httpx.NewError("unknown_provider", "payment provider is not configured", http.StatusNotFound)
	case errors.Is(err, services.ErrPaymentInvalidInput):
		apiErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrPaymentNotFound):
		apiErr = httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound)
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		apiErr = httpx.NewError("amount_mismatch", "gateway amount does not match the payment", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrPaymentReferenceInUse):
		apiErr = httpx.NewError("reference_in_use", "payment reference already used", http.StatusConflict)
	case errors.Is(err, services.ErrPaymentConflict):
		apiErr = httpx.NewError("payment_conflict", "payment changed concurrently; retry", http.StatusConflict)
	case errors.Is(err, services.ErrPaymentGateway):
		apiErr = httpx.NewError("gateway_error", "payment gateway request failed", http.StatusBadGateway)
	case errors.Is(err, services.ErrPaymentUnavailable):
		apiErr = httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable)
	default:
		apiErr = httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError)
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}
