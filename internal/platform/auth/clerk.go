package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/houseofkezura/backend-sub000/internal/services"
)

const defaultClerkAPIURL = "https://api.clerk.com"

// ClerkConfig configures the Clerk Backend API client.
type ClerkConfig struct {
	APIURL     string
	SecretKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Clerk creates users through the Clerk Backend API.
type Clerk struct {
	client *resty.Client
}

// NewClerk constructs a Clerk client. The secret key is required.
func NewClerk(cfg ClerkConfig) (*Clerk, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("clerk secret key is required")
	}
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		baseURL = defaultClerkAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	client.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetAuthToken(secret).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &Clerk{client: client}, nil
}

type clerkCreateUserRequest struct {
	EmailAddress      []string `json:"email_address"`
	PhoneNumber       []string `json:"phone_number,omitempty"`
	Password          string   `json:"password"`
	FirstName         string   `json:"first_name,omitempty"`
	LastName          string   `json:"last_name,omitempty"`
	SkipPasswordCheck bool     `json:"skip_password_checks"`
}

type clerkUser struct {
	ID string `json:"id"`
}

type clerkErrorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		LongMessage string `json:"long_message"`
	} `json:"errors"`
}

// Name implements services.IdentityProvider.
func (c *Clerk) Name() string { return "clerk" }

// CreateUser implements services.IdentityProvider.
func (c *Clerk) CreateUser(ctx context.Context, user services.NewIdentityUser) (string, error) {
	body := clerkCreateUserRequest{
		EmailAddress:      []string{user.Email},
		Password:          user.Password,
		FirstName:         strings.TrimSpace(user.FirstName),
		LastName:          strings.TrimSpace(user.LastName),
		SkipPasswordCheck: true,
	}
	if phone := strings.TrimSpace(user.Phone); strings.HasPrefix(phone, "+") {
		body.PhoneNumber = []string{phone}
	}

	var created clerkUser
	var failure clerkErrorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(body).
		SetResult(&created).
		SetError(&failure).
		Post("/v1/users")
	if err != nil {
		return "", fmt.Errorf("clerk create user: %w", err)
	}
	if resp.IsError() {
		message := strings.TrimSpace(string(resp.Body()))
		if len(failure.Errors) > 0 {
			message = failure.Errors[0].Code + ": " + failure.Errors[0].Message
		}
		return "", fmt.Errorf("clerk create user: status %d: %s", resp.StatusCode(), message)
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", errors.New("clerk create user: response missing id")
	}
	return created.ID, nil
}
