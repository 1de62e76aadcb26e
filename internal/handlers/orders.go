package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
	"github.com/houseofkezura/backend-sub000/internal/platform/pagination"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

const (
	maxOrderStatusBody   = 2 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order lookup for customers and status management for admins.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the customer facing /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

// AdminRoutes registers order management endpoints under an admin-only group.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/status", h.transitionStatus)
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	Status           string             `json:"status"`
	Guest            bool               `json:"guest"`
	Email            string             `json:"email,omitempty"`
	CustomerName     string             `json:"customer_name,omitempty"`
	Currency         string             `json:"currency"`
	Subtotal         string             `json:"subtotal"`
	ShippingCost     string             `json:"shipping_cost"`
	Discount         string             `json:"discount"`
	Total            string             `json:"total"`
	PointsRedeemed   int                `json:"points_redeemed"`
	ShippingMethod   string             `json:"shipping_method"`
	ShippingAddress  addressPayload     `json:"shipping_address"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	Items            []orderItemPayload `json:"items"`
	CreatedAt        string             `json:"created_at,omitempty"`
	UpdatedAt        string             `json:"updated_at,omitempty"`
	PaidAt           string             `json:"paid_at,omitempty"`
}

type orderItemPayload struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	caller := callerFromRequest(r)
	if !caller.IsAuthenticated() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, caller, domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.Get(ctx, callerFromRequest(r), strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req orderStatusRequest
	if !decodeJSONBody(w, r, maxOrderStatusBody, &req) {
		return
	}

	actorID := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		actorID = identity.UID
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  domain.OrderStatus(req.Status),
		ActorID: actorID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another customer", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: formatMoney(item.UnitPrice),
		})
	}
	return orderPayload{
		ID:               order.ID,
		Status:           string(order.Status),
		Guest:            order.IsGuest(),
		Email:            order.Email,
		CustomerName:     order.CustomerName,
		Currency:         order.Currency,
		Subtotal:         formatMoney(order.Subtotal),
		ShippingCost:     formatMoney(order.ShippingCost),
		Discount:         formatMoney(order.Discount),
		Total:            formatMoney(order.Total),
		PointsRedeemed:   order.PointsRedeemed,
		ShippingMethod:   string(order.ShippingMethod),
		ShippingAddress:  buildAddressPayload(order.ShippingAddress),
		PaymentReference: order.PaymentReference,
		Items:            items,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
		PaidAt:           formatTimePtr(order.PaidAt),
	}
}
