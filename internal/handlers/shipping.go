package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

// ShippingHandlers exposes the flat-rate shipping calculator.
type ShippingHandlers struct{}

// NewShippingHandlers constructs shipping handlers.
func NewShippingHandlers() *ShippingHandlers {
	return &ShippingHandlers{}
}

// Routes registers shipping endpoints under the provided router.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/quote", h.quote)
}

type shippingQuoteResponse struct {
	Country  string `json:"country"`
	Zone     int    `json:"zone"`
	Method   string `json:"method"`
	Cost     string `json:"cost"`
	Currency string `json:"currency"`
}

func (h *ShippingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	country := strings.ToUpper(strings.TrimSpace(query.Get("country")))
	if country == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "country is required", http.StatusBadRequest))
		return
	}
	weight := 0
	if raw := strings.TrimSpace(query.Get("weight_grams")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "weight_grams must be a non-negative integer", http.StatusBadRequest))
			return
		}
		weight = parsed
	}
	method := domain.ShippingMethod(strings.ToLower(strings.TrimSpace(query.Get("method"))))
	if method == "" {
		method = domain.ShippingStandard
	}

	cost, err := services.CalculateShippingCost(country, weight, method)
	if err != nil {
		if errors.Is(err, services.ErrShippingUnknownMethod) {
			httpx.WriteError(ctx, w, httpx.NewError("unknown_shipping_method", "method must be standard or express", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "failed to quote shipping", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, shippingQuoteResponse{
		Country:  country,
		Zone:     services.ShippingZone(country),
		Method:   string(method),
		Cost:     formatMoney(cost),
		Currency: domain.DefaultCurrency,
	})
}
