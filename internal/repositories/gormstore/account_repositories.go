package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
)

type walletRepository struct {
	s *Store
}

func (r walletRepository) FindByUser(ctx context.Context, userID string) (domain.Wallet, error) {
	var model walletModel
	if err := r.s.locked(ctx).Where("user_id = ?", userID).Take(&model).Error; err != nil {
		return domain.Wallet{}, database.WrapError("wallets.find", err)
	}
	return toWallet(model), nil
}

func (r walletRepository) Create(ctx context.Context, wallet domain.Wallet) (domain.Wallet, error) {
	now := r.s.now()
	model := walletModel{
		ID:        wallet.ID,
		UserID:    wallet.UserID,
		Balance:   wallet.Balance,
		Currency:  wallet.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if model.Currency == "" {
		model.Currency = domain.DefaultCurrency
	}
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.Wallet{}, database.WrapError("wallets.create", err)
	}
	return toWallet(model), nil
}

// Credit adds amount to the user's wallet, opening one on first credit.
func (r walletRepository) Credit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Wallet, error) {
	wallet, err := r.FindByUser(ctx, userID)
	if err != nil {
		var repoErr *database.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return r.Create(ctx, domain.Wallet{UserID: userID, Balance: amount})
		}
		return domain.Wallet{}, err
	}
	wallet.Balance = wallet.Balance.Add(amount)
	wallet.UpdatedAt = r.s.now()
	err = r.s.conn(ctx).Model(&walletModel{}).Where("id = ?", wallet.ID).Updates(map[string]any{
		"balance":    wallet.Balance,
		"updated_at": wallet.UpdatedAt,
	}).Error
	if err != nil {
		return domain.Wallet{}, database.WrapError("wallets.credit", err)
	}
	return wallet, nil
}

func toWallet(m walletModel) domain.Wallet {
	return domain.Wallet{ID: m.ID, UserID: m.UserID, Balance: m.Balance, Currency: m.Currency, UpdatedAt: m.UpdatedAt}
}

type subscriptionRepository struct {
	s *Store
}

func (r subscriptionRepository) FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	var model subscriptionModel
	if err := r.s.locked(ctx).Where("id = ?", subscriptionID).Take(&model).Error; err != nil {
		return domain.Subscription{}, database.WrapError("subscriptions.find", err)
	}
	return toSubscription(model), nil
}

func (r subscriptionRepository) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	now := r.s.now()
	model := subscriptionModel{
		ID:         sub.ID,
		UserID:     sub.UserID,
		Plan:       sub.Plan,
		PeriodDays: sub.PeriodDays,
		ExpiresAt:  sub.ExpiresAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.Subscription{}, database.WrapError("subscriptions.create", err)
	}
	return toSubscription(model), nil
}

func (r subscriptionRepository) UpdateExpiry(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	res := r.s.conn(ctx).Model(&subscriptionModel{}).Where("id = ?", subscriptionID).Updates(map[string]any{
		"expires_at": expiresAt.UTC(),
		"updated_at": r.s.now(),
	})
	if res.Error != nil {
		return database.WrapError("subscriptions.update_expiry", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("subscriptions.update_expiry", "subscription %s not found", subscriptionID)
	}
	return nil
}

func toSubscription(m subscriptionModel) domain.Subscription {
	return domain.Subscription{
		ID:         m.ID,
		UserID:     m.UserID,
		Plan:       m.Plan,
		PeriodDays: m.PeriodDays,
		ExpiresAt:  m.ExpiresAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type loyaltyRepository struct {
	s *Store
}

func (r loyaltyRepository) FindByUser(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	var model loyaltyModel
	if err := r.s.locked(ctx).Where("user_id = ?", userID).Take(&model).Error; err != nil {
		return domain.LoyaltyAccount{}, database.WrapError("loyalty.find", err)
	}
	return domain.LoyaltyAccount{ID: model.ID, UserID: model.UserID, Points: model.Points, UpdatedAt: model.UpdatedAt}, nil
}

func (r loyaltyRepository) Create(ctx context.Context, account domain.LoyaltyAccount) (domain.LoyaltyAccount, error) {
	now := r.s.now()
	model := loyaltyModel{ID: account.ID, UserID: account.UserID, Points: account.Points, CreatedAt: now, UpdatedAt: now}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.LoyaltyAccount{}, database.WrapError("loyalty.create", err)
	}
	return domain.LoyaltyAccount{ID: model.ID, UserID: model.UserID, Points: model.Points, UpdatedAt: model.UpdatedAt}, nil
}

func (r loyaltyRepository) Deduct(ctx context.Context, userID string, points int) error {
	res := r.s.conn(ctx).Model(&loyaltyModel{}).
		Where("user_id = ? AND points >= ?", userID, points).
		Updates(map[string]any{
			"points":     gorm.Expr("points - ?", points),
			"updated_at": r.s.now(),
		})
	if res.Error != nil {
		return database.WrapError("loyalty.deduct", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.Conflict("loyalty.deduct", "user %s has fewer than %d points", userID, points)
	}
	return nil
}

type userRepository struct {
	s *Store
}

func (r userRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	var model userModel
	if err := r.s.conn(ctx).Where("id = ?", userID).Take(&model).Error; err != nil {
		return domain.User{}, database.WrapError("users.find", err)
	}
	return model.toDomain(), nil
}

func (r userRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	var model userModel
	normalized := strings.ToLower(strings.TrimSpace(email))
	if err := r.s.conn(ctx).Where("email = ?", normalized).Take(&model).Error; err != nil {
		return domain.User{}, database.WrapError("users.find_by_email", err)
	}
	return model.toDomain(), nil
}

func (r userRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	now := r.s.now()
	model := userModel{
		ID:        user.ID,
		Provider:  user.Provider,
		Email:     strings.ToLower(strings.TrimSpace(user.Email)),
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Phone:     user.Phone,
		Roles:     strings.Join(user.Roles, ","),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.User{}, database.WrapError("users.create", err)
	}
	return model.toDomain(), nil
}

func (r userRepository) AddAddress(ctx context.Context, address domain.Address) (domain.Address, error) {
	model := addressModel{
		ID:        address.ID,
		UserID:    address.UserID,
		Address:   toAddressColumns(address),
		IsDefault: address.IsDefault,
		CreatedAt: r.s.now(),
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.Address{}, database.WrapError("users.add_address", err)
	}
	out := model.Address.toDomain()
	out.ID = model.ID
	out.UserID = model.UserID
	out.IsDefault = model.IsDefault
	return out, nil
}
