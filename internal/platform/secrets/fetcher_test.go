package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/houseofkezura/backend-sub000/internal/platform/config"
)

const paystackLive = "projects/kezura-prod/secrets/paystack_live_key/versions/latest"

func TestParseReference(t *testing.T) {
	cases := []struct {
		raw  string
		want Reference
	}{
		{"secret://paystack_live_key", Reference{Name: "paystack_live_key", Version: "latest"}},
		{"sm://paystack/live?version=3", Reference{Name: "paystack_live", Version: "3"}},
		{" secret://smtp-password?project=ops ", Reference{Name: "smtp-password", Version: "latest", Project: "ops"}},
	}
	for _, tc := range cases {
		got, err := ParseReference(tc.raw)
		if err != nil {
			t.Fatalf("ParseReference(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseReference(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}

	for _, bad := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := ParseReference(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}

	ref, _ := ParseReference("secret://smtp-password")
	if ref.EnvKey() != "SMTP_PASSWORD" {
		t.Fatalf("unexpected env key %s", ref.EnvKey())
	}
	if ref.Resource("kezura-prod") != "projects/kezura-prod/secrets/smtp-password/versions/latest" {
		t.Fatalf("unexpected resource %s", ref.Resource("kezura-prod"))
	}
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[paystackLive] = "sk_live_remote"

	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithProject("kezura-prod"))

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://paystack_live_key")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "sk_live_remote" {
			t.Fatalf("expected remote value, got %s", got)
		}
	}
	if calls := client.callCount(paystackLive); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerRefuses(t *testing.T) {
	client := newFakeSecretClient()
	client.errors[paystackLive] = status.Error(codes.PermissionDenied, "denied")

	fetcher := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithProject("kezura-prod"),
		WithFallbackFile(writeFallback(t, "PAYSTACK_LIVE_KEY=sk_live_local\n")),
	)
	got, err := fetcher.Resolve(context.Background(), "secret://paystack_live_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_live_local" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	client := newFakeSecretClient()
	client.errors[paystackLive] = status.Error(codes.NotFound, "missing")

	fetcher := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithProject("kezura-prod"),
		WithFallbackFile(writeFallback(t, "PAYSTACK_LIVE_KEY=sk_live_local\n")),
	)
	if _, err := fetcher.Resolve(context.Background(), "secret://paystack_live_key"); status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected NotFound to surface, got %v", err)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	client := newFakeSecretClient()
	resource := "projects/ops/secrets/flutterwave_hash/versions/5"
	client.values[resource] = "hash-v5"

	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithProject("kezura-prod"))
	got, err := fetcher.Resolve(context.Background(), "sm://flutterwave_hash?version=5&project=ops")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "hash-v5" || client.callCount(resource) != 1 {
		t.Fatalf("expected version 5 from ops, got %q", got)
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	fetcher := newTestFetcher(t,
		WithProject("kezura-prod"),
		WithFallbackFile(writeFallback(t, "# local keys\nSTRIPE_WEBHOOK_SECRET=whsec_local\n")),
	)
	got, err := fetcher.Resolve(context.Background(), "secret://stripe-webhook-secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "whsec_local" {
		t.Fatalf("expected fallback value, got %s", got)
	}
	if err := fetcher.Ping(context.Background()); err != nil {
		t.Fatalf("fallback-only fetcher should be healthy: %v", err)
	}
}

func TestPing(t *testing.T) {
	client := newFakeSecretClient()
	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithProject("kezura-prod"))
	if err := fetcher.Ping(context.Background()); err != nil {
		t.Fatalf("NotFound probe should be healthy: %v", err)
	}

	client.errors["projects/kezura-prod/secrets/healthz/versions/latest"] = status.Error(codes.Unavailable, "down")
	if err := fetcher.Ping(context.Background()); err == nil {
		t.Fatalf("expected unavailable secret manager to fail the probe")
	}
}

func TestFetcherResolvesConfigReferences(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/kezura-prod/secrets/paystack_test_key/versions/latest"] = "sk_test_remote"

	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithProject("kezura-prod"))
	cfg, err := config.Load(ctx,
		config.WithEnvMap(map[string]string{
			"PAYSTACK_TEST_SECRET_KEY": "secret://paystack_test_key",
			"AUTH_PROVIDER":            "none",
		}),
		config.WithoutSystemEnv(),
		config.WithEnvFile(""),
		config.WithSecretResolver(fetcher),
	)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if got := cfg.Payments.PaystackSecretKey(); got != "sk_test_remote" {
		t.Fatalf("expected resolved paystack key, got %s", got)
	}
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{WithFallbackFile("")}, opts...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.calls[name]++
	if err := f.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}
