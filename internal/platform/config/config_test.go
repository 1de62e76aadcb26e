package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func minimalEnv() map[string]string {
	return map[string]string{
		"PAYSTACK_TEST_SECRET_KEY": "sk_test_123",
		"CLERK_JWKS_URL":           "https://clerk.example.com/.well-known/jwks.json",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(minimalEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.MaxOpenConns != 25 {
		t.Errorf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Payments.ActiveGateway != "paystack" || cfg.Payments.Mode != PaymentModeTest {
		t.Errorf("unexpected payment defaults: %s / %s", cfg.Payments.ActiveGateway, cfg.Payments.Mode)
	}
	if cfg.Payments.HTTPTimeout != 15*time.Second {
		t.Errorf("unexpected payments timeout: %s", cfg.Payments.HTTPTimeout)
	}
	if cfg.Payments.PaystackSecretKey() != "sk_test_123" {
		t.Errorf("expected test paystack key, got %s", cfg.Payments.PaystackSecretKey())
	}
	if cfg.Auth.Provider != "clerk" || cfg.Auth.AdminRole != "admin" {
		t.Errorf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Events.Backend != "none" {
		t.Errorf("expected events disabled by default, got %s", cfg.Events.Backend)
	}
	if cfg.SMTP.Enabled() {
		t.Errorf("expected smtp disabled without a host")
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 24*time.Hour || cfg.Idempotency.CleanupInterval != time.Hour || cfg.Idempotency.CleanupBatchSize != 200 {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":             "9090",
		"API_SERVER_IDLE_TIMEOUT":     "2m",
		"API_PUBLIC_BASE_URL":         "https://api.example.com/",
		"API_DATABASE_DRIVER":         "MySQL",
		"API_DATABASE_DSN":            "secret://db/dsn",
		"PAYMENTS_ACTIVE_GATEWAY":     "Stripe",
		"PAYMENTS_MODE":               "live",
		"STRIPE_TEST_API_KEY":         "sk_test",
		"STRIPE_LIVE_API_KEY":         "secret://stripe/live",
		"STRIPE_WEBHOOK_SECRET":       "sm://stripe/webhook",
		"AUTH_PROVIDER":               "firebase",
		"API_FIREBASE_PROJECT_ID":     "kezura-prod",
		"SMTP_HOST":                   "smtp.example.com",
		"SMTP_PORT":                   "2525",
		"SMTP_PASSWORD":               "secret://smtp/password",
		"EVENTS_BACKEND":              "kafka",
		"EVENTS_KAFKA_BROKERS":        "kafka-1:9092, kafka-2:9092,",
		"API_RATELIMIT_WEBHOOK_BURST": "80",
		"API_IDEMPOTENCY_TTL":         "48h",
	}
	secrets := map[string]string{
		"secret://db/dsn":         "user:pass@tcp(db:3306)/kezura?parseTime=true",
		"secret://stripe/live":    "sk_live",
		"secret://stripe/webhook": "whsec",
		"secret://smtp/password":  "smtp-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Server.PublicBaseURL != "https://api.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Server.PublicBaseURL)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.DSN != secrets["secret://db/dsn"] {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Payments.ActiveGateway != "stripe" || !cfg.Payments.Live() {
		t.Errorf("expected live stripe, got %s / %s", cfg.Payments.ActiveGateway, cfg.Payments.Mode)
	}
	if cfg.Payments.StripeAPIKey() != "sk_live" {
		t.Errorf("expected live stripe key, got %s", cfg.Payments.StripeAPIKey())
	}
	if cfg.Payments.StripeWebhookSecret != "whsec" {
		t.Errorf("expected legacy secret scheme resolved, got %s", cfg.Payments.StripeWebhookSecret)
	}
	if cfg.SMTP.Port != 2525 || cfg.SMTP.Password != "smtp-pass" || !cfg.SMTP.Enabled() {
		t.Errorf("unexpected smtp config %+v", cfg.SMTP)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected kafka brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Events.PubSubProjectID != "kezura-prod" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.Events.PubSubProjectID)
	}
	if cfg.RateLimits.WebhookBurst != 80 {
		t.Errorf("unexpected webhook burst %d", cfg.RateLimits.WebhookBurst)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\n# comment\nexport PAYSTACK_TEST_SECRET_KEY=\"sk_dot\"\nAUTH_PROVIDER=none\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Payments.PaystackSecretKey() != "sk_dot" {
		t.Errorf("expected paystack key from dotenv, got %s", cfg.Payments.PaystackSecretKey())
	}
}

func TestLoadMissingRequired(t *testing.T) {
	env := map[string]string{
		"PAYMENTS_ACTIVE_GATEWAY": "paypal",
		"EVENTS_BACKEND":          "pubsub",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	want := map[string]bool{
		"Payments.ActiveGateway": false,
		"Auth.ClerkJWKSURL":      false,
		"Events.PubSubProjectID": false,
	}
	for _, field := range validation.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in %v", field, validation.Fields())
		}
	}
}

func TestLoadRequiresActiveGatewayCredentials(t *testing.T) {
	env := minimalEnv()
	env["PAYMENTS_MODE"] = "live"
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for missing live key, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := minimalEnv()
	env["CLERK_SECRET_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env value, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(minimalEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeWebhookSecret", "Payments.PaystackTestSecretKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Payments.StripeWebhookSecret" {
		t.Fatalf("unexpected missing secrets %v", got)
	}
	expectedRedacted := redactSecretName("Payments.StripeWebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}
