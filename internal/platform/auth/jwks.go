package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-resty/resty/v2"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound means the token names a kid the issuer does not publish.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport, status and decoding failures.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSTTL        = 15 * time.Minute
	defaultJWKSTimeout    = 5 * time.Second
	defaultJWKSMinRefetch = 30 * time.Second
)

// keySet is an immutable snapshot of the issuer's signing keys.
type keySet struct {
	keys      map[string]any
	fetchedAt time.Time
	expiresAt time.Time
}

func (s *keySet) expired(now time.Time) bool {
	return s == nil || !now.Before(s.expiresAt)
}

// stale reports whether the snapshot is past half its lifetime.
func (s *keySet) stale(now time.Time) bool {
	half := s.fetchedAt.Add(s.expiresAt.Sub(s.fetchedAt) / 2)
	return !now.Before(half)
}

// JWKSCache serves Clerk signing keys from memory. Keys are fetched on first use,
// renewed in the background once a snapshot is half expired, and refetched on
// an unknown kid at most once per minRefetch so rotated keys are picked up
// without letting forged kids hammer the issuer.
type JWKSCache struct {
	url        string
	client     *resty.Client
	logger     Logger
	now        func() time.Time
	ttl        time.Duration
	timeout    time.Duration
	minRefetch time.Duration
	background bool

	current    atomic.Pointer[keySet]
	fetchMu    sync.Mutex
	renewing   atomic.Bool
	lastMissAt atomic.Int64
}

// JWKSOption customises a JWKSCache.
type JWKSOption func(*JWKSCache)

// NewJWKSCache builds a cache for the JWKS document at url. Nothing is fetched until the first lookup.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:        url,
		client:     resty.New().SetRetryCount(0),
		logger:     log.Default(),
		now:        time.Now,
		ttl:        defaultJWKSTTL,
		timeout:    defaultJWKSTimeout,
		minRefetch: defaultJWKSMinRefetch,
		background: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = resty.NewWithClient(client).SetRetryCount(0)
		}
	}
}

func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSRefreshInterval sets the snapshot lifetime used when the issuer sends no cache headers.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithJWKSRefreshTimeout(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithJWKSMinRefetch bounds how often an unknown kid may trigger a fetch.
func WithJWKSMinRefetch(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d >= 0 {
			c.minRefetch = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh keeps every fetch on the request path.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) {
		c.background = false
	}
}

// Keyfunc adapts the cache to jwt parsing. Clerk signs session tokens with RS256 only.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key published under kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := c.now()

	set := c.current.Load()
	if set.expired(now) {
		var err error
		if set, err = c.fetch(ctx, set); err != nil {
			return nil, err
		}
	}
	if key, ok := set.keys[kid]; ok {
		if c.background && set.stale(now) {
			c.renewAsync(set)
		}
		return key, nil
	}

	// Unknown kid: the issuer may have rotated, but refetch at most once per window.
	last := c.lastMissAt.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < c.minRefetch {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}
	c.lastMissAt.Store(now.UnixNano())

	set, err := c.fetch(ctx, set)
	if err != nil {
		return nil, err
	}
	if key, ok := set.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) renewAsync(seen *keySet) {
	if !c.renewing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.renewing.Store(false)
		if _, err := c.fetch(context.Background(), seen); err != nil {
			c.logger.Printf("auth: background jwks refresh failed: %v", err)
		}
	}()
}

// fetch replaces the snapshot unless another caller already replaced seen while
// this one waited for the lock.
func (c *JWKSCache) fetch(ctx context.Context, seen *keySet) (*keySet, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if cur := c.current.Load(); cur != nil && cur != seen {
		return cur, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var doc jose.JSONWebKeySet
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		ForceContentType("application/json").
		SetResult(&doc).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode())
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable signing keys", ErrJWKSFetchFailed)
	}

	now := c.now()
	ttl := cacheLifetime(resp.Header(), now)
	if ttl <= 0 {
		ttl = c.ttl
	}
	next := &keySet{keys: keys, fetchedAt: now, expiresAt: now.Add(ttl)}
	c.current.Store(next)

	c.logger.Printf("auth: loaded %d jwks keys, valid for %s", len(keys), ttl)
	return next, nil
}

// cacheLifetime reads max-age, falling back to Expires. Zero means neither is usable.
func cacheLifetime(header http.Header, now time.Time) time.Duration {
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.Trim(value, `" `)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if expires := header.Get("Expires"); expires != "" {
		if at, err := http.ParseTime(expires); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	return 0
}
