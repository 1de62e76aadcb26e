package auth

import (
	"context"
	"strings"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// GuestTokenHeader carries the anonymous cart token for shoppers without an account.
const GuestTokenHeader = "X-Guest-Token"

// Identity captures the authenticated principal extracted from a verified session token.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	Provider string

	token *Token
}

// Token exposes the verified token the identity was built from.
func (i *Identity) Token() *Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const (
	identityContextKey   contextKey = "auth.identity"
	guestTokenContextKey contextKey = "auth.guest_token"
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// WithGuestToken records the guest cart token presented by an anonymous caller.
func WithGuestToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, guestTokenContextKey, token)
}

// GuestTokenFromContext returns the guest token stored by the middleware, if any.
func GuestTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(guestTokenContextKey).(string)
	return token
}
