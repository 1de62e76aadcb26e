package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/houseofkezura/backend-sub000/internal/di"
	"github.com/houseofkezura/backend-sub000/internal/handlers"
	"github.com/houseofkezura/backend-sub000/internal/platform/auth"
	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
	"github.com/houseofkezura/backend-sub000/internal/platform/idempotency"
	"github.com/houseofkezura/backend-sub000/internal/platform/jobs"
	"github.com/houseofkezura/backend-sub000/internal/platform/mailer"
	"github.com/houseofkezura/backend-sub000/internal/platform/observability"
	"github.com/houseofkezura/backend-sub000/internal/platform/requestctx"
	"github.com/houseofkezura/backend-sub000/internal/platform/secrets"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
	"github.com/houseofkezura/backend-sub000/internal/repositories/gormstore"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

const brandName = "House of Kezura"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)
	meter := otel.Meter("github.com/houseofkezura/backend-sub000")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues, meter)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.Open(ctx, cfg.Database, database.WithLogger(logger.Named("database")))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(db, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	store, err := gormstore.New(db, gormstore.WithHealth(healthRepo))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	idempotencyStore := idempotency.NewGormStore(db)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate schema", zap.Error(err))
		}
		if err := idempotencyStore.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate idempotency schema", zap.Error(err))
		}
	}

	processors, err := di.BuildProcessors(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	logger.Info("payment gateways configured",
		zap.String("active", string(processors.Active().Name())),
		zap.Any("providers", processors.Providers()),
		zap.String("mode", cfg.Payments.Mode),
	)

	deps := di.Dependencies{
		Repositories: store,
		Processors:   processors,
		Meter:        meter,
		Logger:       logger,
		Clock:        time.Now,
	}

	verifier, identity, err := buildAuth(ctx, cfg, logger.Named("auth"))
	if err != nil {
		logger.Fatal("failed to initialise authentication", zap.Error(err))
	}
	if identity != nil {
		deps.Identity = identity
	}

	events, closeEvents, err := buildEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer closeEvents()
	if events != nil {
		deps.Events = events
	}

	if cfg.SMTP.Enabled() {
		sender, err := mailer.NewSMTPSender(cfg.SMTP)
		if err != nil {
			logger.Fatal("failed to initialise smtp sender", zap.Error(err))
		}
		notifier, err := mailer.NewNotifier(sender, mailer.NotifierConfig{
			Brand:         brandName,
			StorefrontURL: cfg.Server.StorefrontURL,
		})
		if err != nil {
			logger.Fatal("failed to initialise notifier", zap.Error(err))
		}
		deps.Notifier = notifier
	} else {
		logger.Warn("smtp not configured; customer email disabled")
	}

	container, err := di.NewContainer(ctx, cfg, deps)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleaner := idempotency.NewCleaner(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize,
			observability.NewPrintfAdapter(logger.Named("idempotency")))
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleaner.Run(cleanupCtx)
		}()
	}

	projectID := traceProjectID(cfg)
	routerOpts := di.RouterOptions{
		Middlewares: []func(http.Handler) http.Handler{
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		},
		Idempotency: idempotency.Middleware(
			idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		),
		Health: handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
			handlers.WithHealthRepository(container.Repositories.Health()),
		),
		RateLimits:     cfg.RateLimits,
		AdminRole:      cfg.Auth.AdminRole,
		RequestTimeout: cfg.Server.WriteTimeout - time.Second,
	}
	if verifier != nil {
		routerOpts.Authenticator = auth.NewAuthenticator(verifier, auth.WithProviderName(cfg.Auth.Provider))
	} else {
		routerOpts.Authenticator = auth.NewAuthenticator(nil)
		logger.Warn("auth provider disabled; only guest checkout is available")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router(routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("kezura api listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildAuth returns the bearer token verifier and the identity provider used for
// guest account promotion. Both are nil when auth is disabled.
func buildAuth(ctx context.Context, cfg config.Config, logger *zap.Logger) (auth.TokenVerifier, services.IdentityProvider, error) {
	switch cfg.Auth.Provider {
	case "clerk":
		adapter := observability.NewPrintfAdapter(logger)
		cache := auth.NewJWKSCache(cfg.Auth.ClerkJWKSURL,
			auth.WithJWKSLogger(adapter),
			auth.WithJWKSRefreshInterval(cfg.Auth.JWKSCacheTTL),
		)
		var sessionOpts []auth.SessionOption
		sessionOpts = append(sessionOpts, auth.WithSessionLogger(adapter))
		if issuer := strings.TrimSpace(cfg.Auth.ClerkIssuer); issuer != "" {
			sessionOpts = append(sessionOpts, auth.WithSessionIssuer(issuer))
		}
		if storefront := cfg.Server.StorefrontURL; storefront != "" {
			sessionOpts = append(sessionOpts, auth.WithAuthorizedParties(storefront))
		}
		verifier := auth.NewSessionVerifier(cache, sessionOpts...)

		if strings.TrimSpace(cfg.Auth.ClerkSecretKey) == "" {
			logger.Warn("clerk secret key not configured; guest accounts will not be promoted")
			return verifier, nil, nil
		}
		clerk, err := auth.NewClerk(auth.ClerkConfig{
			APIURL:    cfg.Auth.ClerkAPIURL,
			SecretKey: cfg.Auth.ClerkSecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return verifier, clerk, nil
	case "firebase":
		fb, err := auth.NewFirebase(ctx, cfg.Firebase)
		if err != nil {
			return nil, nil, err
		}
		return fb, fb, nil
	default:
		return nil, nil, nil
	}
}

// buildEventPublisher returns a nil publisher when events are disabled.
func buildEventPublisher(ctx context.Context, cfg config.Config) (services.EventPublisher, func(), error) {
	noop := func() {}
	switch cfg.Events.Backend {
	case "pubsub":
		var opts []option.ClientOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			opts = append(opts, option.WithCredentialsFile(file))
		}
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProjectID, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return publisher, func() {
			topic.Stop()
			_ = client.Close()
		}, nil
	case "kafka":
		publisher, err := jobs.NewKafkaOrderEventPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, noop, err
		}
		return publisher, func() { _ = publisher.Close() }, nil
	default:
		return nil, noop, nil
	}
}

func newHealthRepository(db *gorm.DB, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "database",
			Timeout: 1500 * time.Millisecond,
			Check:   database.Ping(db),
		},
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check:   fetcher.Ping,
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Events.PubSubProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string, meter metric.Meter) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(meter),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if file := lookup("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists webhook secrets that must resolve for the active gateway,
// since its notifications cannot be authenticated without them.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	switch strings.ToLower(strings.TrimSpace(env["PAYMENTS_ACTIVE_GATEWAY"])) {
	case "flutterwave":
		required = append(required, "Payments.FlutterwaveWebhookHash")
	case "stripe":
		required = append(required, "Payments.StripeWebhookSecret")
	}
	if strings.ToLower(strings.TrimSpace(env["AUTH_PROVIDER"])) == "clerk" &&
		strings.EqualFold(strings.TrimSpace(env["API_ENVIRONMENT"]), "production") {
		required = append(required, "Auth.ClerkSecretKey")
	}
	return required
}
