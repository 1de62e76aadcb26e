package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes cart endpoints for signed-in users and guests.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. Identity is optional; guests are tracked by token.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
}

type addCartItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.Resolve(ctx, callerFromRequest(r))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	cart, err := h.carts.AddItem(ctx, callerFromRequest(r), services.AddCartItemCommand{
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusCreated, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItem(ctx, callerFromRequest(r), services.UpdateCartItemCommand{
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemID")),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, callerFromRequest(r), strings.TrimSpace(chi.URLParam(r, "itemID")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func writeCart(w http.ResponseWriter, status int, cart domain.Cart) {
	setNoStoreHeaders(w)
	if cart.GuestToken != "" {
		w.Header().Set(auth.GuestTokenHeader, cart.GuestToken)
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("cart_forbidden", "cart belongs to another customer", http.StatusForbidden))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "product variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "requested quantity exceeds available stock", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func buildCartPayload(cart domain.Cart) cartPayload {
	subtotal := decimal.Zero
	items := make([]cartItemPayload, 0, len(cart.Items))
	count := 0
	for _, item := range cart.Items {
		line := item.LineTotal()
		subtotal = subtotal.Add(line)
		count += item.Quantity
		items = append(items, cartItemPayload{
			ID:        item.ID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: formatMoney(item.UnitPrice),
			LineTotal: formatMoney(line),
			AddedAt:   formatTime(item.CreatedAt),
		})
	}
	return cartPayload{
		ID:         cart.ID,
		Guest:      cart.IsGuest(),
		Currency:   domain.DefaultCurrency,
		ItemsCount: count,
		Items:      items,
		Subtotal:   formatMoney(subtotal),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
}

func buildCartETag(cart domain.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d:%d", cart.ID, cart.UpdatedAt.UTC().UnixNano(), len(cart.Items))
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	Guest      bool              `json:"guest"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	Subtotal   string            `json:"subtotal"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
	AddedAt   string `json:"added_at,omitempty"`
}
