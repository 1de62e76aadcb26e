package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
	"github.com/houseofkezura/backend-sub000/internal/platform/pagination"
)

type orderRepository struct {
	s *Store
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	now := r.s.now()
	model := orderModel{
		ID:               order.ID,
		UserID:           nullable(order.UserID),
		GuestToken:       nullable(order.GuestToken),
		CartID:           order.CartID,
		Email:            order.Email,
		CustomerName:     order.CustomerName,
		Phone:            order.Phone,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Subtotal:         order.Subtotal,
		ShippingCost:     order.ShippingCost,
		Discount:         order.Discount,
		Total:            order.Total,
		PointsRedeemed:   order.PointsRedeemed,
		ShippingMethod:   string(order.ShippingMethod),
		Shipping:         toAddressColumns(order.ShippingAddress),
		PaymentReference: order.PaymentReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if model.Status == "" {
		model.Status = string(domain.OrderStatusPendingPayment)
	}
	items := make([]orderItemModel, 0, len(order.Items))
	for _, item := range order.Items {
		id := item.ID
		if id == "" {
			id = r.s.newID()
		}
		items = append(items, orderItemModel{
			ID:        id,
			OrderID:   model.ID,
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	err := r.s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return domain.Order{}, database.WrapError("orders.create", err)
	}
	return model.toDomain(items), nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var model orderModel
	if err := r.s.locked(ctx).Where("id = ?", orderID).Take(&model).Error; err != nil {
		return domain.Order{}, database.WrapError("orders.find", err)
	}
	items, err := r.loadItems(ctx, []string{model.ID})
	if err != nil {
		return domain.Order{}, err
	}
	return model.toDomain(items[model.ID]), nil
}

func (r orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]orderItemModel, error) {
	var rows []orderItemModel
	if err := r.s.conn(ctx).Where("order_id IN ?", orderIDs).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, database.WrapError("orders.load_items", err)
	}
	grouped := make(map[string][]orderItemModel, len(orderIDs))
	for _, row := range rows {
		grouped[row.OrderID] = append(grouped[row.OrderID], row)
	}
	return grouped, nil
}

// ListByUser pages newest first. ULID keys sort by creation time, so the cursor is the last id.
func (r orderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	size := pagination.ClampPageSize(pager.PageSize)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := r.s.conn(ctx).Where("user_id = ?", userID)
	if !cursor.IsZero() {
		query = query.Where("id < ?", cursor.AfterID)
	}
	var models []orderModel
	if err := query.Order("id DESC").Limit(size + 1).Find(&models).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(models) > size {
		models = models[:size]
		token, err := pagination.EncodeToken(pagination.Cursor{AfterID: models[size-1].ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	if len(models) == 0 {
		return page, nil
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.Items = make([]domain.Order, 0, len(models))
	for _, m := range models {
		page.Items = append(page.Items, m.toDomain(items[m.ID]))
	}
	return page, nil
}

func (r orderRepository) TransitionStatus(ctx context.Context, orderID string, expected []domain.OrderStatus, next domain.OrderStatus, at time.Time) error {
	from := make([]string, 0, len(expected))
	for _, status := range expected {
		from = append(from, string(status))
	}
	updates := map[string]any{
		"status":     string(next),
		"updated_at": at.UTC(),
	}
	if next == domain.OrderStatusPaid {
		updates["paid_at"] = at.UTC()
	}
	res := r.s.conn(ctx).Model(&orderModel{}).
		Where("id = ? AND status IN ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return database.WrapError("orders.transition", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current orderModel
	if err := r.s.conn(ctx).Select("id", "status").Where("id = ?", orderID).Take(&current).Error; err != nil {
		return database.WrapError("orders.transition", err)
	}
	return database.Conflict("orders.transition", "order %s is %s", orderID, current.Status)
}

func (r orderRepository) SetPaymentReference(ctx context.Context, orderID, reference string) error {
	return r.updateColumns(ctx, "orders.set_payment_reference", orderID, map[string]any{
		"payment_reference": reference,
	})
}

func (r orderRepository) AssignUser(ctx context.Context, orderID, userID string) error {
	return r.updateColumns(ctx, "orders.assign_user", orderID, map[string]any{
		"user_id": nullable(userID),
	})
}

func (r orderRepository) updateColumns(ctx context.Context, op, orderID string, updates map[string]any) error {
	updates["updated_at"] = r.s.now()
	res := r.s.conn(ctx).Model(&orderModel{}).Where("id = ?", orderID).Updates(updates)
	if res.Error != nil {
		return database.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound(op, "order %s not found", orderID)
	}
	return nil
}
