package di

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/payments"
	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
	"github.com/houseofkezura/backend-sub000/internal/repositories/gormstore"
)

func TestNewContainerRequiresInfrastructure(t *testing.T) {
	ctx := context.Background()
	if _, err := NewContainer(ctx, config.Config{}, Dependencies{}); err == nil {
		t.Fatalf("expected error without repositories")
	}

	store := newTestStore(t)
	if _, err := NewContainer(ctx, config.Config{}, Dependencies{Repositories: store}); err == nil {
		t.Fatalf("expected error without processors")
	}
}

func TestBuildProcessorsRegistersConfiguredGateways(t *testing.T) {
	cfg := config.Config{}
	cfg.Payments.ActiveGateway = "flutterwave"
	cfg.Payments.Mode = config.PaymentModeTest
	cfg.Payments.PaystackTestSecretKey = "sk_test_paystack"
	cfg.Payments.FlutterwaveTestSecretKey = "FLWSECK_TEST-abc"
	cfg.Payments.StripeLiveAPIKey = "sk_live_ignored"

	reg, err := BuildProcessors(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, payments.ProviderFlutterwave, reg.Active().Name())
	require.ElementsMatch(t, []payments.Provider{payments.ProviderPaystack, payments.ProviderFlutterwave}, reg.Providers())

	if _, err := reg.Get("stripe"); err == nil {
		t.Fatalf("expected stripe to be unregistered without a test key")
	}
}

func TestBuildProcessorsRejectsUnconfiguredActiveGateway(t *testing.T) {
	cfg := config.Config{}
	cfg.Payments.ActiveGateway = "bitpay"
	cfg.Payments.Mode = config.PaymentModeTest
	cfg.Payments.PaystackTestSecretKey = "sk_test_paystack"

	if _, err := BuildProcessors(cfg, nil); err == nil {
		t.Fatalf("expected error when the active gateway has no credentials")
	}
}

func TestRouterGuestCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Variants().Upsert(ctx, domain.ProductVariant{
		ID:          "var_wig_18",
		ProductID:   "prod_wig",
		SKU:         "WIG-18",
		Name:        "Body wave wig 18in",
		Price:       decimal.RequireFromString("45000"),
		WeightGrams: 400,
		Stock:       5,
	}))

	gateway := newFakeGateway()
	reg, err := payments.NewRegistry(payments.ProviderPaystack, gateway)
	require.NoError(t, err)

	container, err := NewContainer(ctx, config.Config{}, Dependencies{
		Repositories: store,
		Processors:   reg,
	})
	require.NoError(t, err)

	router := container.Router(RouterOptions{
		Authenticator: auth.NewAuthenticator(nil),
	})

	// Add to cart as an anonymous shopper; the response issues the guest token.
	rr := serveJSON(t, router, http.MethodPost, "/api/v1/cart/items", "", map[string]any{
		"variant_id": "var_wig_18",
		"quantity":   2,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	guestToken := rr.Header().Get(auth.GuestTokenHeader)
	require.NotEmpty(t, guestToken)

	rr = serveJSON(t, router, http.MethodPost, "/api/v1/checkout", guestToken, map[string]any{
		"email":      "ada@example.com",
		"first_name": "Ada",
		"last_name":  "Obi",
		"phone":      "+2348012345678",
		"shipping_address": map[string]any{
			"line1":   "12 Admiralty Way",
			"city":    "Lagos",
			"country": "NG",
		},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var checkout struct {
		OrderID          string `json:"order_id"`
		PaymentReference string `json:"payment_reference"`
		AuthorizationURL string `json:"authorization_url"`
		Total            string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &checkout))
	require.NotEmpty(t, checkout.OrderID)
	require.NotEmpty(t, checkout.PaymentReference)
	require.Equal(t, "https://checkout.test/"+checkout.PaymentReference, checkout.AuthorizationURL)

	charged, ok := gateway.amount(checkout.PaymentReference)
	require.True(t, ok)
	require.Equal(t, checkout.Total, charged.StringFixed(2))

	rr = serveJSON(t, router, http.MethodGet, "/api/v1/payments/verify/"+checkout.PaymentReference, "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var verified struct {
		Status           string `json:"status"`
		AlreadyProcessed bool   `json:"already_processed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verified))
	require.Equal(t, string(domain.PaymentStatusCompleted), verified.Status)
	require.False(t, verified.AlreadyProcessed)

	order, err := store.Orders().FindByID(ctx, checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, order.Status)

	// A second verification is reported but not applied again.
	rr = serveJSON(t, router, http.MethodGet, "/api/v1/payments/verify/"+checkout.PaymentReference, "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verified))
	require.True(t, verified.AlreadyProcessed)
}

func TestRouterAdminRoutesRequireRole(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	reg, err := payments.NewRegistry(payments.ProviderPaystack, newFakeGateway())
	require.NoError(t, err)
	container, err := NewContainer(ctx, config.Config{}, Dependencies{Repositories: store, Processors: reg})
	require.NoError(t, err)

	router := container.Router(RouterOptions{})
	rr := serveJSON(t, router, http.MethodPost, "/api/v1/admin/orders/ord_1/status", "", map[string]any{"status": "shipped"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func serveJSON(t *testing.T, h http.Handler, method, path, guestToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.4:4410"
	if guestToken != "" {
		req.Header.Set(auth.GuestTokenHeader, guestToken)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func newTestStore(t *testing.T) *gormstore.Store {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(ctx, config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		DSN:          fmt.Sprintf("file:di_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	store, err := gormstore.New(db)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store
}

// fakeGateway settles every initialized payment for the amount it was opened with.
type fakeGateway struct {
	seq     atomic.Int64
	mu      sync.Mutex
	amounts map[string]decimal.Decimal
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{amounts: map[string]decimal.Decimal{}}
}

func (g *fakeGateway) amount(reference string) (decimal.Decimal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.amounts[reference]
	return amount, ok
}

func (g *fakeGateway) Name() payments.Provider { return payments.ProviderPaystack }

func (g *fakeGateway) NewReference() string {
	return fmt.Sprintf("KZ-TEST-%04d", g.seq.Add(1))
}

func (g *fakeGateway) InitializePayment(_ context.Context, req payments.InitializeRequest) (payments.InitializeResponse, error) {
	g.mu.Lock()
	g.amounts[req.Reference] = req.Amount
	g.mu.Unlock()
	return payments.InitializeResponse{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
	}, nil
}

func (g *fakeGateway) VerifyPayment(_ context.Context, req payments.VerifyRequest) (payments.VerifyResponse, error) {
	amount, ok := g.amount(req.Reference)
	if !ok {
		return payments.VerifyResponse{Reference: req.Reference, Status: payments.StatusFailed}, nil
	}
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return payments.VerifyResponse{
		Reference: req.Reference,
		Status:    payments.StatusSuccess,
		Amount:    amount,
		Currency:  domain.DefaultCurrency,
		PaidAt:    &paidAt,
	}, nil
}

func (g *fakeGateway) VerifyWebhookSignature([]byte, http.Header) error { return nil }

func (g *fakeGateway) ParseWebhookEvent([]byte) (payments.WebhookEvent, error) {
	return payments.WebhookEvent{}, payments.ErrUnsupportedProvider
}
