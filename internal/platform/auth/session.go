package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Logger is the printf-style sink shared by the session verifier and its key cache.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder receives one call per verification attempt. reason is empty on success.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// SessionVerifier validates RS256 session tokens (Clerk session JWTs) against a JWKS cache.
type SessionVerifier struct {
	cache   *JWKSCache
	issuer  string
	parties map[string]struct{}
	leeway  time.Duration
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// SessionOption customises the verifier.
type SessionOption func(*SessionVerifier)

// WithSessionIssuer requires the iss claim to match exactly.
func WithSessionIssuer(issuer string) SessionOption {
	return func(v *SessionVerifier) {
		v.issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
	}
}

// WithAuthorizedParties restricts the azp claim to the given origins when present.
func WithAuthorizedParties(parties ...string) SessionOption {
	return func(v *SessionVerifier) {
		for _, party := range parties {
			party = strings.TrimRight(strings.TrimSpace(party), "/")
			if party == "" {
				continue
			}
			if v.parties == nil {
				v.parties = make(map[string]struct{}, len(parties))
			}
			v.parties[party] = struct{}{}
		}
	}
}

// WithSessionLeeway tolerates clock skew on exp and nbf.
func WithSessionLeeway(d time.Duration) SessionOption {
	return func(v *SessionVerifier) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// WithSessionLogger overrides the verifier logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(v *SessionVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSessionMetrics sets the metrics recorder.
func WithSessionMetrics(recorder MetricsRecorder) SessionOption {
	return func(v *SessionVerifier) {
		v.metrics = recorder
	}
}

// WithSessionClock injects a custom clock.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(v *SessionVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewSessionVerifier constructs a SessionVerifier.
func NewSessionVerifier(cache *JWKSCache, opts ...SessionOption) *SessionVerifier {
	verifier := &SessionVerifier{
		cache:  cache,
		leeway: 5 * time.Second,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier
}

// VerifyToken implements TokenVerifier.
func (v *SessionVerifier) VerifyToken(ctx context.Context, raw string) (*Token, error) {
	if v == nil || v.cache == nil {
		return nil, ErrVerifierUnavailable
	}
	start := v.now()

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.fail(ctx, "jwks_unavailable", start, err)
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		v.fail(ctx, "token_invalid", start, err)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := start.Unix()
	leeway := int64(v.leeway / time.Second)
	if !claims.VerifyExpiresAt(now-leeway, true) {
		v.fail(ctx, "token_expired", start, nil)
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now+leeway, false) {
		v.fail(ctx, "token_not_yet_valid", start, nil)
		return nil, ErrTokenInvalid
	}

	issuer, _ := claims["iss"].(string)
	if v.issuer != "" && strings.TrimRight(issuer, "/") != v.issuer {
		v.fail(ctx, "issuer_mismatch", start, nil)
		return nil, fmt.Errorf("%w: issuer %q", ErrTokenInvalid, issuer)
	}
	if azp, _ := claims["azp"].(string); azp != "" && len(v.parties) > 0 {
		if _, ok := v.parties[strings.TrimRight(azp, "/")]; !ok {
			v.fail(ctx, "party_mismatch", start, nil)
			return nil, fmt.Errorf("%w: authorized party %q", ErrTokenInvalid, azp)
		}
	}

	subject, _ := claims["sub"].(string)
	token := &Token{
		Subject: subject,
		Issuer:  issuer,
		Claims:  cloneClaims(claims),
	}
	if exp, ok := claims["exp"].(float64); ok {
		token.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}

	v.record(ctx, true, "ok", start)
	return token, nil
}

func (v *SessionVerifier) fail(ctx context.Context, reason string, start time.Time, err error) {
	if v.logger != nil {
		if err != nil {
			v.logger.Printf("auth: session verification failed (%s): %v", reason, err)
		} else {
			v.logger.Printf("auth: session verification failed (%s)", reason)
		}
	}
	v.record(ctx, false, reason, start)
}

func (v *SessionVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "session", success, reason, v.now().Sub(start))
}

func cloneClaims(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return out
}
