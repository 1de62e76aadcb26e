package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the checkout endpoint for signed-in users and guests.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.checkoutCart)
}

type checkoutRequest struct {
	CartID           string         `json:"cart_id"`
	Email            string         `json:"email"`
	FirstName        string         `json:"first_name"`
	LastName         string         `json:"last_name"`
	Phone            string         `json:"phone"`
	ShippingAddress  addressPayload `json:"shipping_address"`
	ShippingMethod   string         `json:"shipping_method"`
	RedeemPoints     bool           `json:"redeem_points"`
	PointsToRedeem   int            `json:"points_to_redeem"`
	PaymentReference string         `json:"payment_reference"`
	CallbackURL      string         `json:"callback_url"`
}

type addressPayload struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type checkoutResponse struct {
	Success            bool   `json:"success"`
	OrderID            string `json:"order_id"`
	Status             string `json:"status"`
	PaymentStatus      string `json:"payment_status"`
	PaymentReference   string `json:"payment_reference,omitempty"`
	AuthorizationURL   string `json:"authorization_url,omitempty"`
	Subtotal           string `json:"subtotal"`
	Shipping           string `json:"shipping"`
	Discount           string `json:"discount"`
	Total              string `json:"total"`
	Currency           string `json:"currency"`
	PointsRedeemed     int    `json:"points_redeemed"`
	AutoAccountCreated bool   `json:"auto_account_created"`
	AccountExternalID  string `json:"account_external_id,omitempty"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	caller := callerFromRequest(r)
	email := strings.TrimSpace(req.Email)
	if email == "" && caller.IsAuthenticated() {
		email = identityEmail(ctx)
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		Caller:           caller,
		CartID:           req.CartID,
		Email:            email,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		ShippingMethod:   domain.ShippingMethod(req.ShippingMethod),
		RedeemPoints:     req.RedeemPoints,
		PointsRequested:  req.PointsToRedeem,
		PaymentReference: req.PaymentReference,
		CallbackURL:      req.CallbackURL,
	})
	if err != nil {
		writeCheckoutError(ctx, w, result, err)
		return
	}

	status := http.StatusCreated
	if result.AuthorizationURL != "" {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, buildCheckoutResponse(result))
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	return checkoutResponse{
		Success:            result.Success,
		OrderID:            result.OrderID,
		Status:             string(result.Status),
		PaymentStatus:      string(result.PaymentStatus),
		PaymentReference:   result.PaymentReference,
		AuthorizationURL:   result.AuthorizationURL,
		Subtotal:           formatMoney(result.Subtotal),
		Shipping:           formatMoney(result.Shipping),
		Discount:           formatMoney(result.Discount),
		Total:              formatMoney(result.Total),
		Currency:           domain.DefaultCurrency,
		PointsRedeemed:     result.PointsRedeemed,
		AutoAccountCreated: result.AutoAccountCreated,
		AccountExternalID:  result.AccountExternalID,
	}
}

// writeCheckoutError renders the {success:false, error} envelope. Payment failures also carry
// the order id, since the failed order is kept.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, result services.CheckoutResult, err error) {
	var (
		code    string
		message string
		status  int
	)
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrShippingUnknownMethod):
		code, message, status = "invalid_request", err.Error(), http.StatusBadRequest
	case errors.Is(err, services.ErrCheckoutForbidden):
		code, message, status = "cart_forbidden", "cart belongs to another customer", http.StatusForbidden
	case errors.Is(err, services.ErrCheckoutCartNotFound):
		code, message, status = "cart_not_found", "cart not found", http.StatusNotFound
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		code, message, status = "cart_empty", "cart is empty", http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		code, message, status = "insufficient_stock", "insufficient stock for one or more items", http.StatusConflict
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		code, message, status = "payment_failed", "payment could not be completed", http.StatusPaymentRequired
		if errors.Is(err, services.ErrPaymentGateway) {
			status = http.StatusBadGateway
		}
	case errors.Is(err, services.ErrCheckoutUnavailable):
		code, message, status = "checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable
	default:
		code, message, status = "checkout_error", "failed to process checkout request", http.StatusInternalServerError
	}

	details := map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	}
	if result.OrderID != "" {
		details["order_id"] = result.OrderID
		details["order_status"] = string(result.Status)
		details["payment_status"] = string(result.PaymentStatus)
		if result.PaymentReference != "" {
			details["payment_reference"] = result.PaymentReference
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status).WithDetails(details))
}
