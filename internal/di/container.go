package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/houseofkezura/backend-sub000/internal/payments"
	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/platform/observability"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	Accounts services.AccountService
}

// Dependencies carries the infrastructure built outside the container. Optional
// collaborators stay nil when their backend is disabled.
type Dependencies struct {
	Repositories repositories.Registry
	Processors   *payments.Registry
	Identity     services.IdentityProvider
	Events       services.EventPublisher
	Notifier     services.Notifier
	Meter        metric.Meter
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Processors   *payments.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply a sqlite-backed
// registry and stub processors.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Processors == nil {
		return nil, errors.New("payment processor registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Repositories,
		Processors:   deps.Processors,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, deps Dependencies) (Services, error) {
	reg := deps.Repositories
	var svc Services

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Variants:   reg.Variants(),
		UnitOfWork: reg,
		Logger:     observability.EventLogger(deps.Logger, "cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	accountSvc, err := services.NewAccountService(services.AccountServiceDeps{
		Users:      reg.Users(),
		Loyalty:    reg.Loyalty(),
		Wallets:    reg.Wallets(),
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		UnitOfWork: reg,
		Identity:   deps.Identity,
		Notifier:   deps.Notifier,
		Clock:      deps.Clock,
		Logger:     observability.EventLogger(deps.Logger, "accounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build account service: %w", err)
	}
	svc.Accounts = accountSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Processors:    deps.Processors,
		Payments:      reg.Payments(),
		Webhooks:      reg.Webhooks(),
		Orders:        reg.Orders(),
		Variants:      reg.Variants(),
		Carts:         reg.Carts(),
		Wallets:       reg.Wallets(),
		Subscriptions: reg.Subscriptions(),
		Loyalty:       reg.Loyalty(),
		UnitOfWork:    reg,
		Accounts:      accountSvc,
		Events:        deps.Events,
		Notifier:      deps.Notifier,
		Meter:         deps.Meter,
		Clock:         deps.Clock,
		Logger:        observability.EventLogger(deps.Logger, "payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:      reg.Carts(),
		Variants:   reg.Variants(),
		Orders:     reg.Orders(),
		Loyalty:    reg.Loyalty(),
		UnitOfWork: reg,
		Payments:   paymentSvc,
		Events:     deps.Events,
		Meter:      deps.Meter,
		Clock:      deps.Clock,
		Logger:     observability.EventLogger(deps.Logger, "checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Variants:   reg.Variants(),
		UnitOfWork: reg,
		Events:     deps.Events,
		Notifier:   deps.Notifier,
		Clock:      deps.Clock,
		Logger:     observability.EventLogger(deps.Logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}
