package gormstore

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
)

type cartRepository struct {
	s *Store
}

func (r cartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	return r.findOne(ctx, "carts.find", "id = ?", cartID)
}

func (r cartRepository) FindByUserID(ctx context.Context, userID string) (domain.Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Cart{}, database.NotFound("carts.find_by_user", "user id is empty")
	}
	return r.findOne(ctx, "carts.find_by_user", "user_id = ?", userID)
}

func (r cartRepository) FindByGuestToken(ctx context.Context, token string) (domain.Cart, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Cart{}, database.NotFound("carts.find_by_guest", "guest token is empty")
	}
	return r.findOne(ctx, "carts.find_by_guest", "guest_token = ?", token)
}

func (r cartRepository) findOne(ctx context.Context, op string, query string, arg any) (domain.Cart, error) {
	var model cartModel
	if err := r.s.locked(ctx).Where(query, arg).Take(&model).Error; err != nil {
		return domain.Cart{}, database.WrapError(op, err)
	}
	items, err := r.loadItems(ctx, model.ID)
	if err != nil {
		return domain.Cart{}, database.WrapError(op, err)
	}
	return model.toDomain(items), nil
}

func (r cartRepository) loadItems(ctx context.Context, cartID string) ([]cartItemModel, error) {
	var items []cartItemModel
	err := r.s.locked(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC").Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r cartRepository) FindItem(ctx context.Context, itemID string) (domain.CartItem, error) {
	var model cartItemModel
	if err := r.s.locked(ctx).Where("id = ?", itemID).Take(&model).Error; err != nil {
		return domain.CartItem{}, database.WrapError("carts.find_item", err)
	}
	return model.toDomain(), nil
}

func (r cartRepository) Create(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if cart.UserID != "" && cart.GuestToken != "" {
		return domain.Cart{}, database.WrapError("carts.create", errors.New("cart cannot have both user and guest owner"))
	}
	now := r.s.now()
	model := cartModel{
		ID:         cart.ID,
		UserID:     nullable(cart.UserID),
		GuestToken: nullable(cart.GuestToken),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.Cart{}, database.WrapError("carts.create", err)
	}
	return model.toDomain(nil), nil
}

func (r cartRepository) SetOwner(ctx context.Context, cartID, userID, guestToken string) error {
	res := r.s.conn(ctx).Model(&cartModel{}).Where("id = ?", cartID).Updates(map[string]any{
		"user_id":     nullable(userID),
		"guest_token": nullable(guestToken),
		"updated_at":  r.s.now(),
	})
	if res.Error != nil {
		return database.WrapError("carts.set_owner", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("carts.set_owner", "cart %s not found", cartID)
	}
	return nil
}

func (r cartRepository) Delete(ctx context.Context, cartID string) error {
	return r.s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cart_id = ?", cartID).Delete(&cartItemModel{}).Error; err != nil {
			return database.WrapError("carts.delete_items", err)
		}
		res := tx.Where("id = ?", cartID).Delete(&cartModel{})
		if res.Error != nil {
			return database.WrapError("carts.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return database.NotFound("carts.delete", "cart %s not found", cartID)
		}
		return nil
	})
}

func (r cartRepository) SaveItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	now := r.s.now()
	model := cartItemModel{
		ID:        item.ID,
		CartID:    item.CartID,
		VariantID: item.VariantID,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		CreatedAt: item.CreatedAt,
		UpdatedAt: now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	err := r.s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "unit_price", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.CartItem{}, database.WrapError("carts.save_item", err)
	}
	if err := r.touch(ctx, model.CartID); err != nil {
		return domain.CartItem{}, err
	}
	return model.toDomain(), nil
}

func (r cartRepository) DeleteItem(ctx context.Context, itemID string) error {
	var model cartItemModel
	if err := r.s.conn(ctx).Where("id = ?", itemID).Take(&model).Error; err != nil {
		return database.WrapError("carts.delete_item", err)
	}
	if err := r.s.conn(ctx).Delete(&model).Error; err != nil {
		return database.WrapError("carts.delete_item", err)
	}
	return r.touch(ctx, model.CartID)
}

func (r cartRepository) MoveItem(ctx context.Context, itemID, targetCartID string) error {
	res := r.s.conn(ctx).Model(&cartItemModel{}).Where("id = ?", itemID).Updates(map[string]any{
		"cart_id":    targetCartID,
		"updated_at": r.s.now(),
	})
	if res.Error != nil {
		return database.WrapError("carts.move_item", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("carts.move_item", "cart item %s not found", itemID)
	}
	return r.touch(ctx, targetCartID)
}

func (r cartRepository) ClearItems(ctx context.Context, cartID string) error {
	if err := r.s.conn(ctx).Where("cart_id = ?", cartID).Delete(&cartItemModel{}).Error; err != nil {
		return database.WrapError("carts.clear", err)
	}
	return r.touch(ctx, cartID)
}

func (r cartRepository) touch(ctx context.Context, cartID string) error {
	err := r.s.conn(ctx).Model(&cartModel{}).Where("id = ?", cartID).Update("updated_at", r.s.now()).Error
	return database.WrapError("carts.touch", err)
}
