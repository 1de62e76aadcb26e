package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/payments"
	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
	"github.com/houseofkezura/backend-sub000/internal/repositories/gormstore"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func mustGuestToken(t *testing.T) string {
	t.Helper()
	token, err := NewGuestToken()
	if err != nil {
		t.Fatalf("NewGuestToken: %v", err)
	}
	return token
}

func newServiceStore(t *testing.T) *gormstore.Store {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(ctx, config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		DSN:          fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	var seq atomic.Int64
	store, err := gormstore.New(db,
		gormstore.WithIDGenerator(func() string { return fmt.Sprintf("ID%06d", seq.Add(1)) }),
		gormstore.WithClock(fixedClock),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store
}

func seedVariant(t *testing.T, store *gormstore.Store, id, price string, stock int) domain.ProductVariant {
	t.Helper()
	variant := domain.ProductVariant{
		ID:          id,
		ProductID:   "prod-" + id,
		SKU:         "SKU-" + strings.ToUpper(id),
		Name:        "Variant " + id,
		Price:       dec(price),
		WeightGrams: 250,
		Stock:       stock,
	}
	if err := store.Variants().Upsert(context.Background(), variant); err != nil {
		t.Fatalf("seed variant %s: %v", id, err)
	}
	return variant
}

func stockOf(t *testing.T, store *gormstore.Store, id string) int {
	t.Helper()
	variant, err := store.Variants().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find variant %s: %v", id, err)
	}
	return variant.Stock
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type stubProcessor struct {
	name       payments.Provider
	seq        atomic.Int64
	initFunc   func(ctx context.Context, req payments.InitializeRequest) (payments.InitializeResponse, error)
	verifyFunc func(ctx context.Context, req payments.VerifyRequest) (payments.VerifyResponse, error)
	sigErr     error
	event      payments.WebhookEvent
	parseErr   error

	mu       sync.Mutex
	verified []string
}

func (p *stubProcessor) Name() payments.Provider {
	if p.name == "" {
		return payments.ProviderPaystack
	}
	return p.name
}

func (p *stubProcessor) NewReference() string {
	return fmt.Sprintf("ref_%03d", p.seq.Add(1))
}

func (p *stubProcessor) InitializePayment(ctx context.Context, req payments.InitializeRequest) (payments.InitializeResponse, error) {
	if p.initFunc != nil {
		return p.initFunc(ctx, req)
	}
	return payments.InitializeResponse{
		Reference:         req.Reference,
		ProviderReference: "ac_" + req.Reference,
		AuthorizationURL:  "https://checkout.example.com/" + req.Reference,
		AccessCode:        "ac_" + req.Reference,
	}, nil
}

func (p *stubProcessor) VerifyPayment(ctx context.Context, req payments.VerifyRequest) (payments.VerifyResponse, error) {
	p.mu.Lock()
	p.verified = append(p.verified, req.Reference)
	p.mu.Unlock()
	if p.verifyFunc != nil {
		return p.verifyFunc(ctx, req)
	}
	return payments.VerifyResponse{}, errors.New("verify not configured")
}

func (p *stubProcessor) VerifyWebhookSignature([]byte, http.Header) error {
	return p.sigErr
}

func (p *stubProcessor) ParseWebhookEvent([]byte) (payments.WebhookEvent, error) {
	if p.parseErr != nil {
		return payments.WebhookEvent{}, p.parseErr
	}
	return p.event, nil
}

// succeedWith makes the processor report a successful payment for amount.
func (p *stubProcessor) succeedWith(amount string) {
	p.verifyFunc = func(_ context.Context, req payments.VerifyRequest) (payments.VerifyResponse, error) {
		return payments.VerifyResponse{
			Reference: req.Reference,
			Status:    payments.StatusSuccess,
			Amount:    dec(amount),
			Currency:  domain.DefaultCurrency,
		}, nil
	}
}

func newTestRegistry(t *testing.T, processor *stubProcessor) *payments.Registry {
	t.Helper()
	registry, err := payments.NewRegistry(processor.Name(), processor)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

type stubIdentityProvider struct {
	err     error
	created []NewIdentityUser
}

func (p *stubIdentityProvider) Name() string { return "stub" }

func (p *stubIdentityProvider) CreateUser(_ context.Context, user NewIdentityUser) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.created = append(p.created, user)
	return fmt.Sprintf("ext_%d", len(p.created)), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(kind domain.OrderEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.Type == kind {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu            sync.Mutex
	confirmations []string
	statusChanges []domain.OrderStatus
	welcomes      []string
}

func (n *recordingNotifier) OrderConfirmation(_ context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, order.ID)
	return nil
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, order domain.Order, _ domain.OrderStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusChanges = append(n.statusChanges, order.Status)
	return nil
}

func (n *recordingNotifier) Welcome(_ context.Context, user domain.User, _ domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcomes = append(n.welcomes, user.Email)
	return nil
}
