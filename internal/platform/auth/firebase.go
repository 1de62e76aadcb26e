package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/services"
)

// FirebaseClient is the subset of the Admin SDK auth client used by this package.
type FirebaseClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	CreateUser(ctx context.Context, user *firebaseauth.UserToCreate) (*firebaseauth.UserRecord, error)
}

// Firebase verifies Firebase ID tokens and creates Firebase users for promoted guests.
type Firebase struct {
	client  FirebaseClient
	timeout time.Duration
}

// FirebaseOption customises Firebase instances.
type FirebaseOption func(*Firebase)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *Firebase) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebase initialises the Admin SDK for the configured project.
func NewFirebase(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*Firebase, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	return NewFirebaseWithClient(authClient, opts...), nil
}

// NewFirebaseWithClient wraps an existing client.
func NewFirebaseWithClient(client FirebaseClient, opts ...FirebaseOption) *Firebase {
	fb := &Firebase{
		client:  client,
		timeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fb)
		}
	}
	return fb
}

// VerifyToken implements TokenVerifier.
func (f *Firebase) VerifyToken(ctx context.Context, raw string) (*Token, error) {
	if f == nil || f.client == nil {
		return nil, ErrVerifierUnavailable
	}

	ctx, cancel := f.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	token, err := f.client.VerifyIDToken(ctx, raw)
	switch {
	case err == nil:
	case firebaseauth.IsIDTokenExpired(err):
		return nil, ErrTokenExpired
	case firebaseauth.IsIDTokenInvalid(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}

	return &Token{
		Subject:   token.UID,
		Issuer:    token.Issuer,
		ExpiresAt: time.Unix(token.Expires, 0).UTC(),
		Claims:    token.Claims,
	}, nil
}

// Name implements services.IdentityProvider.
func (f *Firebase) Name() string { return "firebase" }

// CreateUser implements services.IdentityProvider.
func (f *Firebase) CreateUser(ctx context.Context, user services.NewIdentityUser) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("firebase client not initialised")
	}

	ctx, cancel := f.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	params := (&firebaseauth.UserToCreate{}).
		Email(user.Email).
		Password(user.Password).
		EmailVerified(false)
	if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
		params = params.DisplayName(name)
	}
	// The Admin SDK rejects phone numbers that are not E.164.
	if phone := strings.TrimSpace(user.Phone); strings.HasPrefix(phone, "+") {
		params = params.PhoneNumber(phone)
	}

	record, err := f.client.CreateUser(ctx, params)
	if err != nil {
		return "", fmt.Errorf("firebase create user: %w", err)
	}
	return record.UID, nil
}

func (f *Firebase) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f == nil || f.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, f.timeout)
}
