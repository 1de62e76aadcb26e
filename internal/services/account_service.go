package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

const (
	generatedPasswordLength = 20
	customerRole            = "customer"
)

var (
	promotionMinTotal = decimal.NewFromInt(200000)
	promotionMaxTotal = decimal.NewFromInt(500000)

	passwordClasses = []string{
		"ABCDEFGHJKLMNPQRSTUVWXYZ",
		"abcdefghijkmnopqrstuvwxyz",
		"23456789",
		"!@#$%^&*-_=+?",
	}
)

// AccountServiceDeps wires the dependencies required by the account service.
type AccountServiceDeps struct {
	Users      repositories.UserRepository
	Loyalty    repositories.LoyaltyRepository
	Wallets    repositories.WalletRepository
	Orders     repositories.OrderRepository
	Carts      repositories.CartRepository
	UnitOfWork repositories.UnitOfWork
	Identity   IdentityProvider
	Notifier   Notifier
	// PasswordGenerator overrides the random password source.
	PasswordGenerator func() (string, error)
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type accountService struct {
	users     repositories.UserRepository
	loyalty   repositories.LoyaltyRepository
	wallets   repositories.WalletRepository
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	uow       repositories.UnitOfWork
	identity  IdentityProvider
	notifier  Notifier
	passwords func() (string, error)
	now       func() time.Time
	logger    logFunc
}

// NewAccountService constructs an AccountService validating required dependencies. A nil
// identity provider disables promotion.
func NewAccountService(deps AccountServiceDeps) (AccountService, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("account service: user repository is required")
	case deps.Loyalty == nil:
		return nil, errors.New("account service: loyalty repository is required")
	case deps.Wallets == nil:
		return nil, errors.New("account service: wallet repository is required")
	case deps.Orders == nil:
		return nil, errors.New("account service: order repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("account service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	passwords := deps.PasswordGenerator
	if passwords == nil {
		passwords = GeneratePassword
	}
	return &accountService{
		users:     deps.Users,
		loyalty:   deps.Loyalty,
		wallets:   deps.Wallets,
		orders:    deps.Orders,
		carts:     deps.Carts,
		uow:       deps.UnitOfWork,
		identity:  deps.Identity,
		notifier:  deps.Notifier,
		passwords: passwords,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// PromotionEligibleTotal reports whether a guest order total falls inside the inclusive
// auto-account window.
func PromotionEligibleTotal(total decimal.Decimal) bool {
	return total.GreaterThanOrEqual(promotionMinTotal) && total.LessThanOrEqual(promotionMaxTotal)
}

// GeneratePassword returns a random password containing every character class.
func GeneratePassword() (string, error) {
	all := strings.Join(passwordClasses, "")
	out := make([]byte, generatedPasswordLength)
	for i := range out {
		charset := all
		if i < len(passwordClasses) {
			charset = passwordClasses[i]
		}
		c, err := randomChar(charset)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return charset[n.Int64()], nil
}

// PromoteGuest creates an account for a qualifying paid guest order. Identity provider
// failures degrade to an uncreated account and a nil error.
func (s *accountService) PromoteGuest(ctx context.Context, order domain.Order) (PromotionResult, error) {
	email := strings.ToLower(strings.TrimSpace(order.Email))
	if !order.IsGuest() || email == "" || !PromotionEligibleTotal(order.Total) {
		return PromotionResult{}, nil
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		s.logger(ctx, "account.promotion_skipped", map[string]any{"orderID": order.ID, "reason": "email_registered"})
		return PromotionResult{}, nil
	} else if !isNotFound(err) {
		return PromotionResult{}, fmt.Errorf("account: lookup email: %w", err)
	}

	result := PromotionResult{Eligible: true}
	if s.identity == nil {
		s.logger(ctx, "account.promotion_skipped", map[string]any{"orderID": order.ID, "reason": "identity_provider_disabled"})
		return result, nil
	}

	password, err := s.passwords()
	if err != nil {
		return result, err
	}
	firstName, lastName := splitCustomerName(order)
	userID, err := s.identity.CreateUser(ctx, NewIdentityUser{
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
		Phone:     order.Phone,
	})
	if err != nil {
		s.logger(ctx, "account.provider_failed", map[string]any{
			"orderID":  order.ID,
			"provider": s.identity.Name(),
			"error":    err.Error(),
		})
		return result, nil
	}

	user := domain.User{
		ID:        userID,
		Provider:  s.identity.Name(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Phone:     order.Phone,
		Roles:     []string{customerRole},
		CreatedAt: s.now(),
	}
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		created, err := s.users.Create(txCtx, user)
		if err != nil {
			return err
		}
		user = created

		address := order.ShippingAddress
		address.ID = ""
		address.UserID = user.ID
		address.IsDefault = true
		if address.FirstName == "" {
			address.FirstName = firstName
		}
		if address.LastName == "" {
			address.LastName = lastName
		}
		if _, err := s.users.AddAddress(txCtx, address); err != nil {
			return err
		}
		if _, err := s.loyalty.Create(txCtx, domain.LoyaltyAccount{UserID: user.ID}); err != nil {
			return err
		}
		if _, err := s.wallets.Create(txCtx, domain.Wallet{UserID: user.ID, Balance: decimal.Zero, Currency: domain.DefaultCurrency}); err != nil {
			return err
		}
		if err := s.orders.AssignUser(txCtx, order.ID, user.ID); err != nil {
			return err
		}
		if s.carts != nil && order.CartID != "" {
			if err := s.carts.SetOwner(txCtx, order.CartID, user.ID, ""); err != nil && !isNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "account.local_create_failed", map[string]any{
			"orderID": order.ID,
			"userID":  userID,
			"error":   err.Error(),
		})
		return result, fmt.Errorf("%w: %v", ErrAccountCreateFailed, err)
	}

	s.logger(ctx, "account.auto_created", map[string]any{"orderID": order.ID, "userID": user.ID})
	if s.notifier != nil {
		order.UserID = user.ID
		if err := s.notifier.Welcome(ctx, user, order); err != nil {
			s.logger(ctx, "account.welcome_failed", map[string]any{"userID": user.ID, "error": err.Error()})
		}
	}
	result.Created = true
	result.UserID = user.ID
	return result, nil
}

func splitCustomerName(order domain.Order) (string, string) {
	first := strings.TrimSpace(order.ShippingAddress.FirstName)
	last := strings.TrimSpace(order.ShippingAddress.LastName)
	if first != "" || last != "" {
		return first, last
	}
	parts := strings.Fields(order.CustomerName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
