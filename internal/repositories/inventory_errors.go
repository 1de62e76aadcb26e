package repositories

import "fmt"

// InventoryErrorCode enumerates stock check failures.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorVariantNotFound indicates the variant has no inventory row.
	InventoryErrorVariantNotFound InventoryErrorCode = "inventory_variant_not_found"
)

// InventoryError carries the variant and quantities behind a failed stock check.
type InventoryError struct {
	Code      InventoryErrorCode
	VariantID string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == InventoryErrorVariantNotFound {
		return fmt.Sprintf("%s: variant %s", e.Code, e.VariantID)
	}
	return fmt.Sprintf("%s: variant %s requested %d available %d", e.Code, e.VariantID, e.Requested, e.Available)
}

// NewInsufficientStockError constructs a stock shortage error for a variant.
func NewInsufficientStockError(variantID string, requested, available int) *InventoryError {
	return &InventoryError{
		Code:      InventoryErrorInsufficientStock,
		VariantID: variantID,
		Requested: requested,
		Available: available,
	}
}
