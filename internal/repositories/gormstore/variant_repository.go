package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

type variantRepository struct {
	s *Store
}

type variantRow struct {
	ID          string
	ProductID   string
	SKU         string
	Name        string
	Price       decimal.Decimal
	WeightGrams int
	Stock       int
	UpdatedAt   time.Time
}

func (r variantRepository) FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	var row variantRow
	err := r.s.conn(ctx).
		Table("product_variants AS v").
		Select("v.id, v.product_id, v.sku, v.name, v.price, v.weight_grams, COALESCE(i.quantity, 0) AS stock, v.updated_at").
		Joins("LEFT JOIN inventories AS i ON i.variant_id = v.id").
		Where("v.id = ?", variantID).
		Take(&row).Error
	if err != nil {
		return domain.ProductVariant{}, database.WrapError("variants.find", err)
	}
	return domain.ProductVariant{
		ID:          row.ID,
		ProductID:   row.ProductID,
		SKU:         row.SKU,
		Name:        row.Name,
		Price:       row.Price,
		WeightGrams: row.WeightGrams,
		Stock:       row.Stock,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (r variantRepository) Upsert(ctx context.Context, variant domain.ProductVariant) error {
	now := r.s.now()
	if variant.ID == "" {
		return database.WrapError("variants.upsert", fmt.Errorf("variant id is required"))
	}
	return r.s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		model := variantModel{
			ID:          variant.ID,
			ProductID:   variant.ProductID,
			SKU:         variant.SKU,
			Name:        variant.Name,
			Price:       variant.Price,
			WeightGrams: variant.WeightGrams,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_id", "sku", "name", "price", "weight_grams", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return database.WrapError("variants.upsert", err)
		}
		inventory := inventoryModel{VariantID: variant.ID, Quantity: variant.Stock, UpdatedAt: now}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "variant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).Create(&inventory).Error
		return database.WrapError("variants.upsert_inventory", err)
	})
}

// DecrementStock takes quantity from the inventory row, clamping at zero. The shortfall is
// reported to the caller rather than failing the decrement.
func (r variantRepository) DecrementStock(ctx context.Context, variantID string, quantity int) (repositories.StockAdjustment, error) {
	var inv inventoryModel
	if err := r.s.locked(ctx).Where("variant_id = ?", variantID).Take(&inv).Error; err != nil {
		return repositories.StockAdjustment{}, database.WrapError("variants.decrement", err)
	}
	adj := repositories.StockAdjustment{VariantID: variantID, Before: inv.Quantity, After: inv.Quantity - quantity}
	if adj.After < 0 {
		adj.Shortfall = -adj.After
		adj.After = 0
	}
	err := r.s.conn(ctx).Model(&inventoryModel{}).Where("variant_id = ?", variantID).Updates(map[string]any{
		"quantity":   adj.After,
		"updated_at": r.s.now(),
	}).Error
	if err != nil {
		return repositories.StockAdjustment{}, database.WrapError("variants.decrement", err)
	}
	return adj, nil
}

func (r variantRepository) IncrementStock(ctx context.Context, variantID string, quantity int) error {
	res := r.s.conn(ctx).Model(&inventoryModel{}).Where("variant_id = ?", variantID).Updates(map[string]any{
		"quantity":   gorm.Expr("quantity + ?", quantity),
		"updated_at": r.s.now(),
	})
	if res.Error != nil {
		return database.WrapError("variants.increment", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("variants.increment", "inventory for variant %s not found", variantID)
	}
	return nil
}
