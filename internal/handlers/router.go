package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Group mounts Routes under the API prefix at Path with group-only middleware.
type Group struct {
	Path        string
	Routes      RouteRegistrar
	Middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	prefix      string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      []Group
}

// Option customises NewRouter.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// NewRouter builds the API router. Probes live at /healthz and /readyz outside the prefix;
// every group is mounted in the order given.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{prefix: defaultAPIPrefix, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		for _, g := range cfg.groups {
			if g.Routes == nil {
				continue
			}
			api.Route("/"+strings.Trim(g.Path, "/"), func(sub chi.Router) {
				for _, mw := range g.Middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				g.Routes(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware; they run after request id and real-ip handling.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithGroups mounts route groups under the API prefix.
func WithGroups(groups ...Group) Option {
	return func(cfg *routerConfig) {
		cfg.groups = append(cfg.groups, groups...)
	}
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// CombineRegistrars registers every non-nil registrar against the same router.
func CombineRegistrars(registrars ...RouteRegistrar) RouteRegistrar {
	return func(r chi.Router) {
		for _, reg := range registrars {
			if reg != nil {
				reg(r)
			}
		}
	}
}
