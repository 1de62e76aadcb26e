package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the storefront settlement currency.
const DefaultCurrency = "NGN"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Cart is owned either by an authenticated user or by a guest token, never both.
type Cart struct {
	ID         string
	UserID     string
	GuestToken string
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsGuest reports whether the cart is keyed by a guest token.
func (c Cart) IsGuest() bool {
	return c.UserID == "" && c.GuestToken != ""
}

// CartItem is a single variant line. UnitPrice is locked at the time the line was added.
type CartItem struct {
	ID        string
	CartID    string
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineTotal returns quantity multiplied by the snapshotted unit price.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ProductVariant is a purchasable SKU with its inventory row folded in.
type ProductVariant struct {
	ID          string
	ProductID   string
	SKU         string
	Name        string
	Price       decimal.Decimal
	WeightGrams int
	Stock       int
	UpdatedAt   time.Time
}

// Address is a postal address, used both for order snapshots and the user address book.
type Address struct {
	ID         string
	UserID     string
	FirstName  string
	LastName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	IsDefault  bool
}

// OrderStatus describes the order lifecycle.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// ShippingMethod selects the flat-fee shipping tier.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

// Order captures the priced snapshot of a cart at checkout time.
type Order struct {
	ID               string
	UserID           string
	GuestToken       string
	CartID           string
	Email            string
	CustomerName     string
	Phone            string
	Status           OrderStatus
	Currency         string
	Subtotal         decimal.Decimal
	ShippingCost     decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal
	PointsRedeemed   int
	ShippingMethod   ShippingMethod
	ShippingAddress  Address
	PaymentReference string
	Items            []OrderItem
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

// IsGuest reports whether the order was placed without an account.
func (o Order) IsGuest() bool {
	return o.UserID == ""
}

// OrderItem is an immutable line snapshot.
type OrderItem struct {
	ID        string
	OrderID   string
	VariantID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PaymentStatus tracks the gateway payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusAbandoned PaymentStatus = "abandoned"
)

// IsTerminal reports whether no further transition is expected.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusAbandoned:
		return true
	default:
		return false
	}
}

// Payment is keyed by the unique gateway reference.
type Payment struct {
	ID                string
	Reference         string
	ProviderReference string
	Provider          string
	UserID            string
	Email             string
	Amount            decimal.Decimal
	Currency          string
	Status            PaymentStatus
	Purpose           PaymentPurpose
	AuthorizationURL  string
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// TransactionKind distinguishes inbound payments from outbound transfers.
type TransactionKind string

const (
	TransactionKindPayment  TransactionKind = "payment"
	TransactionKindTransfer TransactionKind = "transfer"
)

// Transaction is the ledger row mirroring a Payment, or recording an outbound transfer.
type Transaction struct {
	ID        string
	Reference string
	PaymentID string
	UserID    string
	Kind      TransactionKind
	Amount    decimal.Decimal
	Currency  string
	Status    PaymentStatus
	Narration string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wallet holds a user's stored balance.
type Wallet struct {
	ID        string
	UserID    string
	Balance   decimal.Decimal
	Currency  string
	UpdatedAt time.Time
}

// Subscription is a time-boxed plan renewed through payments.
type Subscription struct {
	ID         string
	UserID     string
	Plan       string
	PeriodDays int
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

// LoyaltyAccount stores redeemable points for a user.
type LoyaltyAccount struct {
	ID        string
	UserID    string
	Points    int
	UpdatedAt time.Time
}

// User is the local account mirror of an identity provider user. ID is the provider subject.
type User struct {
	ID        string
	Provider  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Roles     []string
	CreatedAt time.Time
}
