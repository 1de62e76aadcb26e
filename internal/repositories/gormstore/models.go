package gormstore

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
)

type cartModel struct {
	ID         string  `gorm:"primaryKey;size:26"`
	UserID     *string `gorm:"size:64;uniqueIndex"`
	GuestToken *string `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (cartModel) TableName() string { return "carts" }

type cartItemModel struct {
	ID        string          `gorm:"primaryKey;size:26"`
	CartID    string          `gorm:"size:26;not null;uniqueIndex:idx_cart_items_cart_variant"`
	VariantID string          `gorm:"size:26;not null;uniqueIndex:idx_cart_items_cart_variant"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (cartItemModel) TableName() string { return "cart_items" }

type variantModel struct {
	ID          string          `gorm:"primaryKey;size:26"`
	ProductID   string          `gorm:"size:26;index"`
	SKU         string          `gorm:"size:64;uniqueIndex"`
	Name        string          `gorm:"size:255"`
	Price       decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	WeightGrams int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (variantModel) TableName() string { return "product_variants" }

type inventoryModel struct {
	VariantID string `gorm:"primaryKey;size:26"`
	Quantity  int    `gorm:"not null"`
	UpdatedAt time.Time
}

func (inventoryModel) TableName() string { return "inventories" }

type addressColumns struct {
	FirstName  string `gorm:"size:120"`
	LastName   string `gorm:"size:120"`
	Line1      string `gorm:"size:255"`
	Line2      string `gorm:"size:255"`
	City       string `gorm:"size:120"`
	State      string `gorm:"size:120"`
	PostalCode string `gorm:"size:32"`
	Country    string `gorm:"size:2"`
	Phone      string `gorm:"size:32"`
}

type orderModel struct {
	ID               string          `gorm:"primaryKey;size:26"`
	UserID           *string         `gorm:"size:64;index"`
	GuestToken       *string         `gorm:"size:64;index"`
	CartID           string          `gorm:"size:26"`
	Email            string          `gorm:"size:255"`
	CustomerName     string          `gorm:"size:255"`
	Phone            string          `gorm:"size:32"`
	Status           string          `gorm:"size:32;index;not null"`
	Currency         string          `gorm:"size:3;not null"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	ShippingCost     decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Discount         decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Total            decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	PointsRedeemed   int
	ShippingMethod   string         `gorm:"size:16"`
	Shipping         addressColumns `gorm:"embedded;embeddedPrefix:ship_"`
	PaymentReference string         `gorm:"size:64;index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID        string          `gorm:"primaryKey;size:26"`
	OrderID   string          `gorm:"size:26;index;not null"`
	VariantID string          `gorm:"size:26;not null"`
	SKU       string          `gorm:"size:64"`
	Name      string          `gorm:"size:255"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(14,2);not null"`
}

func (orderItemModel) TableName() string { return "order_items" }

type paymentModel struct {
	ID                string          `gorm:"primaryKey;size:26"`
	Reference         string          `gorm:"size:64;uniqueIndex;not null"`
	ProviderReference string          `gorm:"size:128"`
	Provider          string          `gorm:"size:32;not null"`
	UserID            *string         `gorm:"size:64;index"`
	Email             string          `gorm:"size:255"`
	Amount            decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Currency          string          `gorm:"size:3;not null"`
	Status            string          `gorm:"size:16;not null"`
	Purpose           string          `gorm:"size:32;not null"`
	OrderID           *string         `gorm:"size:26;index"`
	SubscriptionID    *string         `gorm:"size:26"`
	GuestToken        *string         `gorm:"size:64"`
	AuthorizationURL  string          `gorm:"size:512"`
	Version           int             `gorm:"not null;default:1"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

func (paymentModel) TableName() string { return "payments" }

type transactionModel struct {
	ID        string          `gorm:"primaryKey;size:26"`
	Reference string          `gorm:"size:64;uniqueIndex;not null"`
	PaymentID *string         `gorm:"size:26;index"`
	UserID    *string         `gorm:"size:64;index"`
	Kind      string          `gorm:"size:16;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Currency  string          `gorm:"size:3;not null"`
	Status    string          `gorm:"size:16;not null"`
	Narration string          `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (transactionModel) TableName() string { return "transactions" }

type processedWebhookModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Provider    string    `gorm:"size:32;not null;uniqueIndex:idx_processed_webhooks_event"`
	Reference   string    `gorm:"size:128;not null;uniqueIndex:idx_processed_webhooks_event"`
	Event       string    `gorm:"size:64;not null;uniqueIndex:idx_processed_webhooks_event"`
	ProcessedAt time.Time `gorm:"not null"`
}

func (processedWebhookModel) TableName() string { return "processed_webhooks" }

type walletModel struct {
	ID        string          `gorm:"primaryKey;size:26"`
	UserID    string          `gorm:"size:64;uniqueIndex;not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Currency  string          `gorm:"size:3;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (walletModel) TableName() string { return "wallets" }

type subscriptionModel struct {
	ID         string    `gorm:"primaryKey;size:26"`
	UserID     string    `gorm:"size:64;index;not null"`
	Plan       string    `gorm:"size:64;not null"`
	PeriodDays int       `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (subscriptionModel) TableName() string { return "subscriptions" }

type loyaltyModel struct {
	ID        string `gorm:"primaryKey;size:26"`
	UserID    string `gorm:"size:64;uniqueIndex;not null"`
	Points    int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (loyaltyModel) TableName() string { return "loyalty_accounts" }

type userModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Provider  string `gorm:"size:32"`
	Email     string `gorm:"size:255;uniqueIndex;not null"`
	FirstName string `gorm:"size:120"`
	LastName  string `gorm:"size:120"`
	Phone     string `gorm:"size:32"`
	Roles     string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type addressModel struct {
	ID        string         `gorm:"primaryKey;size:26"`
	UserID    string         `gorm:"size:64;index;not null"`
	Address   addressColumns `gorm:"embedded"`
	IsDefault bool
	CreatedAt time.Time
}

func (addressModel) TableName() string { return "addresses" }

// Models lists every table managed by the store, in migration order.
func Models() []any {
	return []any{
		&cartModel{}, &cartItemModel{},
		&variantModel{}, &inventoryModel{},
		&orderModel{}, &orderItemModel{},
		&paymentModel{}, &transactionModel{}, &processedWebhookModel{},
		&walletModel{}, &subscriptionModel{}, &loyaltyModel{},
		&userModel{}, &addressModel{},
	}
}

func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func toAddressColumns(a domain.Address) addressColumns {
	return addressColumns{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func (c addressColumns) toDomain() domain.Address {
	return domain.Address{
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Line1:      c.Line1,
		Line2:      c.Line2,
		City:       c.City,
		State:      c.State,
		PostalCode: c.PostalCode,
		Country:    c.Country,
		Phone:      c.Phone,
	}
}

func (m cartItemModel) toDomain() domain.CartItem {
	return domain.CartItem{
		ID:        m.ID,
		CartID:    m.CartID,
		VariantID: m.VariantID,
		Quantity:  m.Quantity,
		UnitPrice: m.UnitPrice,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (m cartModel) toDomain(items []cartItemModel) domain.Cart {
	cart := domain.Cart{
		ID:         m.ID,
		UserID:     deref(m.UserID),
		GuestToken: deref(m.GuestToken),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Items:      make([]domain.CartItem, 0, len(items)),
	}
	for _, item := range items {
		cart.Items = append(cart.Items, item.toDomain())
	}
	return cart
}

func (m orderModel) toDomain(items []orderItemModel) domain.Order {
	order := domain.Order{
		ID:               m.ID,
		UserID:           deref(m.UserID),
		GuestToken:       deref(m.GuestToken),
		CartID:           m.CartID,
		Email:            m.Email,
		CustomerName:     m.CustomerName,
		Phone:            m.Phone,
		Status:           domain.OrderStatus(m.Status),
		Currency:         m.Currency,
		Subtotal:         m.Subtotal,
		ShippingCost:     m.ShippingCost,
		Discount:         m.Discount,
		Total:            m.Total,
		PointsRedeemed:   m.PointsRedeemed,
		ShippingMethod:   domain.ShippingMethod(m.ShippingMethod),
		ShippingAddress:  m.Shipping.toDomain(),
		PaymentReference: m.PaymentReference,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		PaidAt:           m.PaidAt,
		Items:            make([]domain.OrderItem, 0, len(items)),
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        item.ID,
			OrderID:   item.OrderID,
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return order
}

func (m paymentModel) toDomain() (domain.Payment, error) {
	purpose, err := domain.DecodePurpose(domain.PurposeColumns{
		Kind:           m.Purpose,
		OrderID:        deref(m.OrderID),
		SubscriptionID: deref(m.SubscriptionID),
		GuestToken:     deref(m.GuestToken),
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return domain.Payment{
		ID:                m.ID,
		Reference:         m.Reference,
		ProviderReference: m.ProviderReference,
		Provider:          m.Provider,
		UserID:            deref(m.UserID),
		Email:             m.Email,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Status:            domain.PaymentStatus(m.Status),
		Purpose:           purpose,
		AuthorizationURL:  m.AuthorizationURL,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		CompletedAt:       m.CompletedAt,
	}, nil
}

func (m transactionModel) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:        m.ID,
		Reference: m.Reference,
		PaymentID: deref(m.PaymentID),
		UserID:    deref(m.UserID),
		Kind:      domain.TransactionKind(m.Kind),
		Amount:    m.Amount,
		Currency:  m.Currency,
		Status:    domain.PaymentStatus(m.Status),
		Narration: m.Narration,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (m userModel) toDomain() domain.User {
	user := domain.User{
		ID:        m.ID,
		Provider:  m.Provider,
		Email:     m.Email,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
	}
	for _, role := range strings.Split(m.Roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			user.Roles = append(user.Roles, role)
		}
	}
	return user
}
