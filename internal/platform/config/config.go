package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// Payment modes select which gateway credentials are used.
const (
	PaymentModeTest = "test"
	PaymentModeLive = "live"
)

var (
	supportedDrivers       = []string{"mysql", "sqlite"}
	supportedGateways      = []string{"paystack", "flutterwave", "bitpay", "stripe"}
	supportedAuthProviders = []string{"clerk", "firebase", "none"}
	supportedEventBackends = []string{"none", "pubsub", "kafka"}
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string `env:"API_ENVIRONMENT" envDefault:"local"`
	Server      ServerConfig
	Database    DatabaseConfig
	Payments    PaymentsConfig
	Auth        AuthConfig
	Firebase    FirebaseConfig
	SMTP        SMTPConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string        `env:"API_SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"API_SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"API_SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"API_SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"API_SERVER_SHUTDOWN_TIMEOUT" envDefault:"20s"`
	// PublicBaseURL is the externally reachable API origin, used for gateway notification URLs.
	PublicBaseURL string `env:"API_PUBLIC_BASE_URL"`
	// StorefrontURL receives shoppers after hosted payment pages.
	StorefrontURL string `env:"STOREFRONT_URL" envDefault:"http://localhost:3000"`
}

// DatabaseConfig stores relational database parameters.
type DatabaseConfig struct {
	Driver             string        `env:"API_DATABASE_DRIVER" envDefault:"sqlite"`
	DSN                string        `env:"API_DATABASE_DSN" envDefault:"file:kezura.db?_foreign_keys=on"`
	MaxOpenConns       int           `env:"API_DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns       int           `env:"API_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime    time.Duration `env:"API_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	SlowQueryThreshold time.Duration `env:"API_DATABASE_SLOW_QUERY_THRESHOLD" envDefault:"500ms"`
	AutoMigrate        bool          `env:"API_DATABASE_AUTO_MIGRATE" envDefault:"true"`
}

// PaymentsConfig collects gateway credentials for both modes.
type PaymentsConfig struct {
	ActiveGateway   string        `env:"PAYMENTS_ACTIVE_GATEWAY" envDefault:"paystack"`
	Mode            string        `env:"PAYMENTS_MODE" envDefault:"test"`
	HTTPTimeout     time.Duration `env:"PAYMENTS_HTTP_TIMEOUT" envDefault:"15s"`
	ReferencePrefix string        `env:"PAYMENTS_REFERENCE_PREFIX" envDefault:"KZ"`

	PaystackTestSecretKey    string `env:"PAYSTACK_TEST_SECRET_KEY"`
	PaystackLiveSecretKey    string `env:"PAYSTACK_LIVE_SECRET_KEY"`
	FlutterwaveTestSecretKey string `env:"FLUTTERWAVE_TEST_SECRET_KEY"`
	FlutterwaveLiveSecretKey string `env:"FLUTTERWAVE_LIVE_SECRET_KEY"`
	FlutterwaveWebhookHash   string `env:"FLUTTERWAVE_WEBHOOK_HASH"`
	BitPayTestToken          string `env:"BITPAY_TEST_TOKEN"`
	BitPayLiveToken          string `env:"BITPAY_LIVE_TOKEN"`
	StripeTestAPIKey         string `env:"STRIPE_TEST_API_KEY"`
	StripeLiveAPIKey         string `env:"STRIPE_LIVE_API_KEY"`
	StripeWebhookSecret      string `env:"STRIPE_WEBHOOK_SECRET"`
}

// Live reports whether live credentials are selected.
func (p PaymentsConfig) Live() bool {
	return p.Mode == PaymentModeLive
}

// PaystackSecretKey returns the Paystack key for the configured mode.
func (p PaymentsConfig) PaystackSecretKey() string {
	return p.pick(p.PaystackTestSecretKey, p.PaystackLiveSecretKey)
}

// FlutterwaveSecretKey returns the Flutterwave key for the configured mode.
func (p PaymentsConfig) FlutterwaveSecretKey() string {
	return p.pick(p.FlutterwaveTestSecretKey, p.FlutterwaveLiveSecretKey)
}

// BitPayToken returns the BitPay merchant token for the configured mode.
func (p PaymentsConfig) BitPayToken() string {
	return p.pick(p.BitPayTestToken, p.BitPayLiveToken)
}

// StripeAPIKey returns the Stripe key for the configured mode.
func (p PaymentsConfig) StripeAPIKey() string {
	return p.pick(p.StripeTestAPIKey, p.StripeLiveAPIKey)
}

func (p PaymentsConfig) pick(test, live string) string {
	if p.Live() {
		return live
	}
	return test
}

// credentialFor returns the key required to run gateway in the configured mode.
func (p PaymentsConfig) credentialFor(gateway string) string {
	switch gateway {
	case "paystack":
		return p.PaystackSecretKey()
	case "flutterwave":
		return p.FlutterwaveSecretKey()
	case "bitpay":
		return p.BitPayToken()
	case "stripe":
		return p.StripeAPIKey()
	default:
		return ""
	}
}

// AuthConfig selects how bearer tokens are verified and where guest accounts are created.
type AuthConfig struct {
	Provider       string        `env:"AUTH_PROVIDER" envDefault:"clerk"`
	ClerkSecretKey string        `env:"CLERK_SECRET_KEY"`
	ClerkAPIURL    string        `env:"CLERK_API_URL" envDefault:"https://api.clerk.com"`
	ClerkJWKSURL   string        `env:"CLERK_JWKS_URL"`
	ClerkIssuer    string        `env:"CLERK_ISSUER"`
	JWKSCacheTTL   time.Duration `env:"AUTH_JWKS_CACHE_TTL" envDefault:"10m"`
	AdminRole      string        `env:"AUTH_ADMIN_ROLE" envDefault:"admin"`
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string `env:"API_FIREBASE_PROJECT_ID"`
	CredentialsFile string `env:"API_FIREBASE_CREDENTIALS_FILE"`
}

// SMTPConfig configures outbound transactional email. An empty host disables sending.
type SMTPConfig struct {
	Host     string        `env:"SMTP_HOST"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	Username string        `env:"SMTP_USERNAME"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"SMTP_FROM" envDefault:"orders@houseofkezura.com"`
	FromName string        `env:"SMTP_FROM_NAME" envDefault:"House of Kezura"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether email delivery is configured.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// EventsConfig selects the order event transport.
type EventsConfig struct {
	Backend         string   `env:"EVENTS_BACKEND" envDefault:"none"`
	PubSubProjectID string   `env:"EVENTS_PUBSUB_PROJECT_ID"`
	PubSubTopic     string   `env:"EVENTS_PUBSUB_TOPIC" envDefault:"order-events"`
	KafkaBrokers    []string `env:"EVENTS_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string   `env:"EVENTS_KAFKA_TOPIC" envDefault:"order-events"`
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int `env:"API_RATELIMIT_DEFAULT_PER_MIN" envDefault:"120"`
	AuthenticatedPerMinute int `env:"API_RATELIMIT_AUTH_PER_MIN" envDefault:"240"`
	WebhookBurst           int `env:"API_RATELIMIT_WEBHOOK_BURST" envDefault:"60"`
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string        `env:"API_IDEMPOTENCY_HEADER" envDefault:"Idempotency-Key"`
	TTL              time.Duration `env:"API_IDEMPOTENCY_TTL" envDefault:"24h"`
	CleanupInterval  time.Duration `env:"API_IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupBatchSize int           `env:"API_IDEMPOTENCY_CLEANUP_BATCH" envDefault:"200"`
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options.environment()
}

func (o loaderOptions) environment() (map[string]string, error) {
	values, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory. Identifiers match
// the config field names recorded by the loader (e.g. "Payments.StripeWebhookSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := options.environment()
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: values}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	normalise(&cfg)

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.DSN", &cfg.Database.DSN},
		{"Payments.PaystackTestSecretKey", &cfg.Payments.PaystackTestSecretKey},
		{"Payments.PaystackLiveSecretKey", &cfg.Payments.PaystackLiveSecretKey},
		{"Payments.FlutterwaveTestSecretKey", &cfg.Payments.FlutterwaveTestSecretKey},
		{"Payments.FlutterwaveLiveSecretKey", &cfg.Payments.FlutterwaveLiveSecretKey},
		{"Payments.FlutterwaveWebhookHash", &cfg.Payments.FlutterwaveWebhookHash},
		{"Payments.BitPayTestToken", &cfg.Payments.BitPayTestToken},
		{"Payments.BitPayLiveToken", &cfg.Payments.BitPayLiveToken},
		{"Payments.StripeTestAPIKey", &cfg.Payments.StripeTestAPIKey},
		{"Payments.StripeLiveAPIKey", &cfg.Payments.StripeLiveAPIKey},
		{"Payments.StripeWebhookSecret", &cfg.Payments.StripeWebhookSecret},
		{"Auth.ClerkSecretKey", &cfg.Auth.ClerkSecretKey},
		{"SMTP.Password", &cfg.SMTP.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func normalise(cfg *Config) {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Payments.ActiveGateway = strings.ToLower(strings.TrimSpace(cfg.Payments.ActiveGateway))
	cfg.Payments.Mode = strings.ToLower(strings.TrimSpace(cfg.Payments.Mode))
	cfg.Auth.Provider = strings.ToLower(strings.TrimSpace(cfg.Auth.Provider))
	cfg.Events.Backend = strings.ToLower(strings.TrimSpace(cfg.Events.Backend))
	cfg.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.PublicBaseURL), "/")
	cfg.Server.StorefrontURL = strings.TrimRight(strings.TrimSpace(cfg.Server.StorefrontURL), "/")
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firebase.ProjectID
	}
	brokers := cfg.Events.KafkaBrokers[:0]
	for _, broker := range cfg.Events.KafkaBrokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	cfg.Events.KafkaBrokers = brokers
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if !oneOf(cfg.Database.Driver, supportedDrivers) {
		missing = append(missing, "Database.Driver")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}

	if !oneOf(cfg.Payments.ActiveGateway, supportedGateways) {
		missing = append(missing, "Payments.ActiveGateway")
	} else if strings.TrimSpace(cfg.Payments.credentialFor(cfg.Payments.ActiveGateway)) == "" {
		missing = append(missing, fmt.Sprintf("Payments.%s credentials (%s)", cfg.Payments.ActiveGateway, cfg.Payments.Mode))
	}
	if cfg.Payments.Mode != PaymentModeTest && cfg.Payments.Mode != PaymentModeLive {
		missing = append(missing, "Payments.Mode")
	}

	switch cfg.Auth.Provider {
	case "clerk":
		if strings.TrimSpace(cfg.Auth.ClerkJWKSURL) == "" {
			missing = append(missing, "Auth.ClerkJWKSURL")
		}
	case "firebase":
		if cfg.Firebase.ProjectID == "" {
			missing = append(missing, "Firebase.ProjectID")
		}
	case "none":
	default:
		missing = append(missing, "Auth.Provider")
	}

	switch cfg.Events.Backend {
	case "pubsub":
		if cfg.Events.PubSubProjectID == "" {
			missing = append(missing, "Events.PubSubProjectID")
		}
		if cfg.Events.PubSubTopic == "" {
			missing = append(missing, "Events.PubSubTopic")
		}
	case "kafka":
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			missing = append(missing, "Events.KafkaTopic")
		}
	default:
		if !oneOf(cfg.Events.Backend, supportedEventBackends) {
			missing = append(missing, "Events.Backend")
		}
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}
