// Package secrets resolves secret:// configuration values from Google Secret Manager.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/houseofkezura/backend-sub000/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references against Secret Manager and caches every value for the life of
// the process. When Secret Manager cannot be reached or refuses access, values come from a
// dotenv-format fallback file so local runs need no cloud credentials. A missing secret is
// never papered over by the fallback.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	project    string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type options struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	meter        metric.Meter
	client       accessClient
	clientOpts   []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProject sets the project that owns references without a project query. Without a
// project only the fallback file is consulted.
func WithProject(project string) Option {
	return func(o *options) { o.project = project }
}

func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackPath = path }
}

func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithSecretManagerClient replaces the Secret Manager client; the fetcher will not close it.
func WithSecretManagerClient(client accessClient) Option {
	return func(o *options) { o.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewFetcher never fails on missing credentials: the fetcher then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:       o.client,
		project:      o.project,
		logger:       o.logger,
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]string),
	}

	latency, err := o.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"))
	if err != nil {
		o.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	f.latency = latency

	if f.client == nil && f.project != "" {
		client, err := newSecretManagerClient(ctx, o.clientOpts...)
		if err != nil {
			o.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, raw string) (string, error) {
	return f.Resolve(ctx, raw)
}

func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[ref.cacheKey()]
	f.mu.RUnlock()
	if ok {
		f.observe(ctx, start, "cache")
		return value, nil
	}

	value, source, err := f.load(ctx, ref)
	if err != nil {
		f.observe(ctx, start, "error")
		return "", err
	}
	f.mu.Lock()
	f.cache[ref.cacheKey()] = value
	f.mu.Unlock()
	f.observe(ctx, start, source)
	return value, nil
}

func (f *Fetcher) load(ctx context.Context, ref Reference) (string, string, error) {
	project := ref.Project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		resource := ref.Resource(project)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil && resp.GetPayload() == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", ref.Name)
		case err == nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case !unreachable(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.Name, err)
		}
		f.logger.Debug("secrets: secret manager unreachable, trying fallback",
			zap.String("secret", fingerprint(resource)), zap.Error(err))
	}

	if value, ok := f.fallbackValues()[ref.EnvKey()]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("secrets: %s not found in fallback file %s", ref.Name, f.fallbackPath)
}

func (f *Fetcher) fallbackValues() map[string]string {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: unreadable fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	return f.fallback
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// unreachable separates transport and permission failures, which the fallback may cover,
// from answers such as NotFound, which it must not.
func unreachable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func fingerprint(resource string) string {
	sum := sha256.Sum256([]byte(resource))
	return hex.EncodeToString(sum[:6])
}

// Ping checks that Secret Manager answers for the default project. It bypasses the cache;
// NotFound counts as healthy since only reachability and permissions matter. A fetcher
// running on the fallback file alone is always healthy.
func (f *Fetcher) Ping(ctx context.Context) error {
	if f.client == nil || f.project == "" {
		return nil
	}
	probe := Reference{Name: "healthz", Version: latestVersion}
	_, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: probe.Resource(f.project)})
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return fmt.Errorf("secrets: secret manager unreachable: %w", err)
}
