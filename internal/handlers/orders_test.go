package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

type stubOrderService struct {
	getFunc        func(ctx context.Context, caller services.Caller, orderID string) (domain.Order, error)
	listFunc       func(ctx context.Context, caller services.Caller, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	transitionFunc func(ctx context.Context, cmd services.OrderStatusCommand) (domain.Order, error)
}

func (s *stubOrderService) Get(ctx context.Context, caller services.Caller, orderID string) (domain.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, caller, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) List(ctx context.Context, caller services.Caller, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, caller, pager)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusCommand) (domain.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func orderRouter(svc services.OrderService) chi.Router {
	handlers := NewOrderHandlers(svc)
	router := chi.NewRouter()
	router.Route("/orders", handlers.Routes)
	router.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireRoles(auth.RoleAdmin))
		handlers.AdminRoutes(r)
	})
	return router
}

func sampleHandlerOrder() domain.Order {
	paidAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:             "ord-1",
		UserID:         "user-1",
		Email:          "ada@example.com",
		Status:         domain.OrderStatusPaid,
		Currency:       "NGN",
		Subtotal:       decimal.RequireFromString("25000"),
		ShippingCost:   decimal.RequireFromString("3000"),
		Discount:       decimal.Zero,
		Total:          decimal.RequireFromString("28000"),
		ShippingMethod: domain.ShippingStandard,
		ShippingAddress: domain.Address{
			Line1: "12 Admiralty Way", City: "Lekki", Country: "NG",
		},
		Items: []domain.OrderItem{
			{VariantID: "var-1", SKU: "KZ-OIL-50", Name: "Hair Oil 50ml", Quantity: 2, UnitPrice: decimal.RequireFromString("12500")},
		},
		CreatedAt: paidAt.Add(-time.Hour),
		PaidAt:    &paidAt,
	}
}

func TestOrderHandlersGetOrderForGuest(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, caller services.Caller, orderID string) (domain.Order, error) {
			if orderID != "ord-1" || caller.GuestToken != "guesttoken" {
				t.Fatalf("unexpected lookup %s %+v", orderID, caller)
			}
			order := sampleHandlerOrder()
			order.UserID = ""
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	req = req.WithContext(auth.WithGuestToken(req.Context(), "guesttoken"))
	rr := httptest.NewRecorder()
	orderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Order.Guest || resp.Order.Total != "28000.00" || resp.Order.PaidAt == "" || len(resp.Order.Items) != 1 {
		t.Fatalf("unexpected payload %+v", resp.Order)
	}
	if resp.Order.Items[0].UnitPrice != "12500.00" || resp.Order.ShippingAddress.City != "Lekki" {
		t.Fatalf("unexpected line payload %+v", resp.Order)
	}
}

func TestOrderHandlersListRequiresUser(t *testing.T) {
	rr := httptest.NewRecorder()
	orderRouter(&stubOrderService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListPaginates(t *testing.T) {
	service := &stubOrderService{
		listFunc: func(ctx context.Context, caller services.Caller, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if caller.UserID != "user-1" || pager.PageSize != 5 {
				t.Fatalf("unexpected list call %+v %+v", caller, pager)
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{sampleHandlerOrder()}, NextPageToken: "next-token"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders?pageSize=5", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	orderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextPageToken != "next-token" {
		t.Fatalf("unexpected list payload %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/orders?pageSize=abc", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr = httptest.NewRecorder()
	orderRouter(service).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid page size rejected, got %d", rr.Code)
	}
}

func TestOrderHandlersAdminTransition(t *testing.T) {
	service := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd services.OrderStatusCommand) (domain.Order, error) {
			if cmd.OrderID != "ord-1" || cmd.Status != domain.OrderStatusShipped || cmd.ActorID != "admin-1" || cmd.Reason != "dispatched" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			order := sampleHandlerOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}
	router := orderRouter(service)
	body := `{"status":"shipped","reason":" dispatched "}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord-1/status", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected anonymous admin call rejected, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord-1/status", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected non-admin rejected, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/orders/ord-1/status", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusShipped) {
		t.Fatalf("unexpected status %s", resp.Order.Status)
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: order id required", services.ErrOrderInvalidInput), http.StatusBadRequest},
		{services.ErrOrderForbidden, http.StatusForbidden},
		{services.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: pending_payment -> delivered", services.ErrOrderInvalidTransition), http.StatusUnprocessableEntity},
		{services.ErrOrderConflict, http.StatusConflict},
		{services.ErrOrderUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		service := &stubOrderService{
			getFunc: func(context.Context, services.Caller, string) (domain.Order, error) {
				return domain.Order{}, tc.err
			},
		}
		rr := httptest.NewRecorder()
		orderRouter(service).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord-x", nil))
		if rr.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}
