package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/houseofkezura/backend-sub000/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultEmailClaim    = "email"
	defaultFallbackRole  = RoleUser
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the presented session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the presented session token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: session token invalid")
	// ErrVerifierUnavailable signals that keys or the verification backend could not be reached.
	ErrVerifierUnavailable = errors.New("auth: verification unavailable")
)

// Token is the provider-neutral view of a verified session token.
type Token struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	Claims    map[string]any
}

// TokenVerifier verifies bearer session tokens issued by the identity provider.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (*Token, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(context.Context, string) (*Token, error)

// VerifyToken implements TokenVerifier.
func (f TokenVerifierFunc) VerifyToken(ctx context.Context, raw string) (*Token, error) {
	return f(ctx, raw)
}

// Authenticator wires session token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	provider string

	roleClaim  string
	emailClaim string

	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithProviderName labels identities with the issuing provider.
func WithProviderName(name string) Option {
	return func(a *Authenticator) {
		a.provider = strings.TrimSpace(name)
	}
}

// WithRoleClaim overrides the claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithEmailClaim overrides the claim used to populate Identity.Email.
func WithEmailClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.emailClaim = claim
		}
	}
}

// WithFallbackRole sets the default role when no role claim is present.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		role = normaliseRole(role)
		if role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator. A nil verifier rejects every bearer token,
// which leaves the API usable by guests only.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		emailClaim:   defaultEmailClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Authenticate attaches the caller identity when a bearer token is present and records
// the guest token header. Requests without credentials pass through as guests; a
// malformed or unverifiable bearer token is rejected.
func (a *Authenticator) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithGuestToken(r.Context(), r.Header.Get(GuestTokenHeader))

			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			tokenStr, ok := extractBearerToken(header)
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
				return
			}

			identity, err := a.identify(ctx, tokenStr)
			if err != nil {
				respondVerificationError(ctx, w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// RequireRoles rejects requests whose identity lacks every one of the allowed roles.
// It must run after Authenticate.
func RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) identify(ctx context.Context, raw string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, ErrVerifierUnavailable
	}

	ctx, cancel := a.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	token, err := a.verifier.VerifyToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if token == nil || strings.TrimSpace(token.Subject) == "" {
		return nil, ErrTokenInvalid
	}

	identity := &Identity{
		UID:      strings.TrimSpace(token.Subject),
		Email:    claimAsString(token.Claims, a.emailClaim),
		Roles:    rolesFromClaims(token.Claims, a.roleClaim),
		Provider: a.provider,
		token:    token,
	}
	if identity.Email == "" {
		identity.Email = claimAsString(token.Claims, defaultEmailClaim)
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity, nil
}

func (a *Authenticator) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

// rolesFromClaims reads roles from a string, a list, a {role: bool} map, or a metadata
// object carrying a nested "role" or "roles" entry (Clerk public metadata).
func rolesFromClaims(claims map[string]any, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case string:
		role := normaliseRole(v)
		if role == "" {
			return nil
		}
		return []string{role}
	case []any:
		return uniqueRolesFromInterfaces(v)
	case []string:
		values := make([]any, 0, len(v))
		for _, item := range v {
			values = append(values, item)
		}
		return uniqueRolesFromInterfaces(values)
	case map[string]any:
		for _, nested := range []string{"role", "roles"} {
			if _, ok := v[nested]; ok {
				return rolesFromClaims(v, nested)
			}
		}
		out := make([]string, 0, len(v))
		for key, value := range v {
			boolVal, ok := value.(bool)
			if !ok || !boolVal {
				continue
			}
			role := normaliseRole(key)
			if role == "" {
				continue
			}
			out = append(out, role)
		}
		return out
	default:
		return nil
	}
}

func uniqueRolesFromInterfaces(values []any) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		role := normaliseRole(str)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrVerifierUnavailable):
		respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "session verification unavailable")
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "session token expired")
	default:
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "session token invalid")
	}
}
