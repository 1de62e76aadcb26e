package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubTokenVerifier struct {
	token    *Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyToken(ctx context.Context, raw string) (*Token, error) {
	s.received = raw
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestAuthenticate_AttachesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &Token{
			Subject: "user_123",
			Claims: map[string]any{
				"role":  []any{"admin", "user", "admin"},
				"email": "ada@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier, WithProviderName("clerk"))

	handlerCalled := false
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "user_123" || identity.Email != "ada@example.com" || identity.Provider != "clerk" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleAdmin) {
			t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
		}
		if identity.Token() != verifier.token {
			t.Fatalf("expected verified token on identity")
		}
		if got := GuestTokenFromContext(r.Context()); got != "guest-abc" {
			t.Fatalf("expected guest token to be kept for cart merge, got %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	req.Header.Set(GuestTokenHeader, " guest-abc ")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || !handlerCalled {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestAuthenticate_GuestPassesThrough(t *testing.T) {
	verifier := &stubTokenVerifier{}
	authn := NewAuthenticator(verifier)

	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Fatalf("guest request must not carry an identity")
		}
		if got := GuestTokenFromContext(r.Context()); got != "guest-xyz" {
			t.Fatalf("unexpected guest token %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GuestTokenHeader, "guest-xyz")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if verifier.received != "" {
		t.Fatalf("verifier must not be called without a bearer token")
	}
}

func TestAuthenticate_RejectsBadCredentials(t *testing.T) {
	cases := []struct {
		name     string
		verifier TokenVerifier
		header   string
		status   int
		code     string
	}{
		{name: "expired", verifier: &stubTokenVerifier{err: ErrTokenExpired}, header: "Bearer expired", status: http.StatusUnauthorized, code: "token_expired"},
		{name: "invalid", verifier: &stubTokenVerifier{err: ErrTokenInvalid}, header: "Bearer bad", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "not bearer", verifier: &stubTokenVerifier{}, header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "blank subject", verifier: &stubTokenVerifier{token: &Token{}}, header: "Bearer x", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "no verifier", verifier: nil, header: "Bearer x", status: http.StatusServiceUnavailable, code: "verification_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier)
			handler := authn.Authenticate()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not execute")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tc.header)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected %s error, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestAuthenticate_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{token: &Token{Subject: "uid-456", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("expected fallback role %q, got %v", RoleUser, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer missing-role-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRolesFromClerkMetadata(t *testing.T) {
	claims := map[string]any{
		"metadata": map[string]any{"role": "Admin"},
	}
	roles := rolesFromClaims(claims, "metadata")
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Fatalf("expected admin from nested metadata, got %v", roles)
	}

	flags := map[string]any{"roles": map[string]any{"admin": true, "editor": false}}
	roles = rolesFromClaims(flags, "roles")
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Fatalf("expected admin from flag map, got %v", roles)
	}
}

func TestRequireRoles(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guard := RequireRoles(RoleAdmin)(ok)

	cases := []struct {
		name     string
		identity *Identity
		status   int
	}{
		{name: "anonymous", identity: nil, status: http.StatusUnauthorized},
		{name: "customer", identity: &Identity{UID: "u1", Roles: []string{RoleUser}}, status: http.StatusForbidden},
		{name: "admin", identity: &Identity{UID: "u2", Roles: []string{"ADMIN"}}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tc.identity))
			}
			rr := httptest.NewRecorder()
			guard.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}
