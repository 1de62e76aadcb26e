package di

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/houseofkezura/backend-sub000/internal/handlers"
	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/platform/config"
)

// RouterOptions carries the HTTP-only collaborators of the API router.
type RouterOptions struct {
	Authenticator *auth.Authenticator
	// Middlewares run before authentication, e.g. tracing and request logging.
	Middlewares []func(http.Handler) http.Handler
	// Idempotency guards checkout submissions.
	Idempotency func(http.Handler) http.Handler
	Health      *handlers.HealthHandlers
	RateLimits  config.RateLimitConfig
	AdminRole   string
	// RequestTimeout bounds each handler; zero keeps the router default.
	RequestTimeout time.Duration
	Clock          func() time.Time
}

// Router assembles the public API over the container's services.
func (c *Container) Router(opts RouterOptions) chi.Router {
	middlewares := append([]func(http.Handler) http.Handler{}, opts.Middlewares...)
	if opts.Authenticator != nil {
		middlewares = append(middlewares, opts.Authenticator.Authenticate())
	}
	middlewares = append(middlewares, handlers.RateLimitMiddleware(handlers.RateLimitOptions{
		AnonymousPerMinute:     opts.RateLimits.DefaultPerMinute,
		AuthenticatedPerMinute: opts.RateLimits.AuthenticatedPerMinute,
		Clock:                  opts.Clock,
		Skip: func(r *http.Request) bool {
			return strings.HasPrefix(r.URL.Path, webhookPathPrefix)
		},
	}))

	adminRole := strings.TrimSpace(opts.AdminRole)
	if adminRole == "" {
		adminRole = auth.RoleAdmin
	}

	cart := handlers.NewCartHandlers(c.Services.Cart)
	shipping := handlers.NewShippingHandlers()
	checkout := handlers.NewCheckoutHandlers(c.Services.Checkout)
	orders := handlers.NewOrderHandlers(c.Services.Orders)
	payments := handlers.NewPaymentHandlers(c.Services.Payments)

	var checkoutMW []func(http.Handler) http.Handler
	if opts.Idempotency != nil {
		checkoutMW = append(checkoutMW, opts.Idempotency)
	}
	webhookLimit := handlers.RateLimitMiddleware(handlers.RateLimitOptions{
		AnonymousPerMinute: opts.RateLimits.WebhookBurst,
		Clock:              opts.Clock,
	})

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(opts.RequestTimeout),
		handlers.WithGroups(
			handlers.Group{Path: "cart", Routes: cart.Routes},
			handlers.Group{Path: "shipping", Routes: shipping.Routes},
			handlers.Group{Path: "checkout", Routes: checkout.Routes, Middlewares: checkoutMW},
			handlers.Group{Path: "orders", Routes: orders.Routes},
			handlers.Group{Path: "payments", Routes: payments.Routes},
			handlers.Group{
				Path:        "admin",
				Routes:      handlers.CombineRegistrars(orders.AdminRoutes, payments.AdminRoutes),
				Middlewares: []func(http.Handler) http.Handler{auth.RequireRoles(adminRole)},
			},
			handlers.Group{Path: "webhooks", Routes: payments.WebhookRoutes, Middlewares: []func(http.Handler) http.Handler{webhookLimit}},
		),
	}
	if opts.Health != nil {
		routerOpts = append(routerOpts, handlers.WithHealthHandlers(opts.Health))
	}
	return handlers.NewRouter(routerOpts...)
}
