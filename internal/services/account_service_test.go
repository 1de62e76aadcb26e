package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
)

func newAccountFixture(t *testing.T, identity IdentityProvider) (*paymentFixture, AccountService) {
	t.Helper()
	f := newPaymentFixture(t)
	svc, err := NewAccountService(AccountServiceDeps{
		Users:      f.store.Users(),
		Loyalty:    f.store.Loyalty(),
		Wallets:    f.store.Wallets(),
		Orders:     f.store.Orders(),
		Carts:      f.store.Carts(),
		UnitOfWork: f.store,
		Identity:   identity,
		Notifier:   f.notifier,
		Clock:      fixedClock,
		Logger:     f.logger.log,
	})
	if err != nil {
		t.Fatalf("new account service: %v", err)
	}
	return f, svc
}

func TestGeneratePasswordCoversEveryClass(t *testing.T) {
	for i := 0; i < 20; i++ {
		password, err := GeneratePassword()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(password) != generatedPasswordLength {
			t.Fatalf("expected %d characters, got %d", generatedPasswordLength, len(password))
		}
		for _, class := range passwordClasses {
			if !strings.ContainsAny(password, class) {
				t.Fatalf("password %q misses class %q", password, class)
			}
		}
	}
}

func TestPromoteGuestCreatesAccount(t *testing.T) {
	identity := &stubIdentityProvider{}
	f, svc := newAccountFixture(t, identity)
	ctx := context.Background()
	token := mustGuestToken(t)
	order := f.seedPendingOrder(t, "", token, "250000", 1)

	res, err := svc.PromoteGuest(ctx, order)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !res.Eligible || !res.Created || res.UserID != "ext_1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(identity.created) != 1 || identity.created[0].Email != "shopper@example.com" || identity.created[0].FirstName != "Ada" {
		t.Fatalf("unexpected identity request %+v", identity.created)
	}

	user, err := f.store.Users().FindByID(ctx, "ext_1")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if len(user.Roles) != 1 || user.Roles[0] != customerRole {
		t.Fatalf("expected customer role, got %v", user.Roles)
	}
	if _, err := f.store.Loyalty().FindByUser(ctx, "ext_1"); err != nil {
		t.Fatalf("expected loyalty account: %v", err)
	}
	wallet, err := f.store.Wallets().FindByUser(ctx, "ext_1")
	if err != nil || !wallet.Balance.IsZero() || wallet.Currency != domain.DefaultCurrency {
		t.Fatalf("expected empty NGN wallet, got %+v / %v", wallet, err)
	}
	var addresses int64
	if err := f.store.DB().Table("addresses").Where("user_id = ? AND is_default = ?", "ext_1", true).Count(&addresses).Error; err != nil {
		t.Fatalf("count addresses: %v", err)
	}
	if addresses != 1 {
		t.Fatalf("expected one default address, got %d", addresses)
	}

	reloaded, err := f.store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if reloaded.UserID != "ext_1" {
		t.Fatalf("expected order assigned to new user, got %q", reloaded.UserID)
	}
	cart, err := f.store.Carts().FindByID(ctx, order.CartID)
	if err != nil {
		t.Fatalf("find cart: %v", err)
	}
	if cart.UserID != "ext_1" || cart.GuestToken != "" {
		t.Fatalf("expected cart moved to new user, got %+v", cart)
	}
	if len(f.notifier.welcomes) != 1 {
		t.Fatalf("expected welcome email, got %d", len(f.notifier.welcomes))
	}
}

func TestPromoteGuestSkipsIneligibleOrders(t *testing.T) {
	identity := &stubIdentityProvider{}
	f, svc := newAccountFixture(t, identity)
	ctx := context.Background()

	owned := f.seedPendingOrder(t, "user-1", "", "300000", 1)
	res, err := svc.PromoteGuest(ctx, owned)
	if err != nil || res.Eligible {
		t.Fatalf("expected user order to be ineligible, got %+v / %v", res, err)
	}

	small := owned
	small.UserID = ""
	small.Total = dec("199999.99")
	if res, err = svc.PromoteGuest(ctx, small); err != nil || res.Eligible {
		t.Fatalf("expected small order to be ineligible, got %+v / %v", res, err)
	}

	noEmail := owned
	noEmail.UserID = ""
	noEmail.Email = " "
	if res, err = svc.PromoteGuest(ctx, noEmail); err != nil || res.Eligible {
		t.Fatalf("expected order without email to be ineligible, got %+v / %v", res, err)
	}

	if _, err := f.store.Users().Create(ctx, domain.User{ID: "existing", Email: "shopper@example.com"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	registered := owned
	registered.UserID = ""
	if res, err = svc.PromoteGuest(ctx, registered); err != nil || res.Eligible {
		t.Fatalf("expected registered email to be skipped, got %+v / %v", res, err)
	}
	if len(identity.created) != 0 {
		t.Fatalf("identity provider must not be called")
	}
}

func TestPromoteGuestProviderFailureDegrades(t *testing.T) {
	identity := &stubIdentityProvider{err: errors.New("clerk unavailable")}
	f, svc := newAccountFixture(t, identity)
	order := f.seedPendingOrder(t, "", mustGuestToken(t), "400000", 1)

	res, err := svc.PromoteGuest(context.Background(), order)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !res.Eligible || res.Created {
		t.Fatalf("expected eligible but not created, got %+v", res)
	}
	if !f.logger.has("account.provider_failed") {
		t.Fatalf("expected provider failure log")
	}
	if _, err := f.store.Users().FindByEmail(context.Background(), "shopper@example.com"); !isNotFound(err) {
		t.Fatalf("expected no local user, got %v", err)
	}
}

func TestPromoteGuestWithoutIdentityProvider(t *testing.T) {
	f, svc := newAccountFixture(t, nil)
	order := f.seedPendingOrder(t, "", mustGuestToken(t), "200000", 1)

	res, err := svc.PromoteGuest(context.Background(), order)
	if err != nil || !res.Eligible || res.Created {
		t.Fatalf("expected eligible but disabled, got %+v / %v", res, err)
	}
}
