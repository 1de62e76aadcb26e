package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Variants() VariantRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Webhooks() WebhookRepository
	Wallets() WalletRepository
	Subscriptions() SubscriptionRepository
	Loyalty() LoyaltyRepository
	Users() UserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transaction. Repository calls made with
// the callback context join the transaction and lock the rows they read.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists carts and their lines. Find methods load items.
type CartRepository interface {
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	FindByUserID(ctx context.Context, userID string) (domain.Cart, error)
	FindByGuestToken(ctx context.Context, token string) (domain.Cart, error)
	FindItem(ctx context.Context, itemID string) (domain.CartItem, error)
	Create(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	// SetOwner rewrites the ownership columns; an empty string stores NULL.
	SetOwner(ctx context.Context, cartID, userID, guestToken string) error
	Delete(ctx context.Context, cartID string) error
	SaveItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error)
	DeleteItem(ctx context.Context, itemID string) error
	MoveItem(ctx context.Context, itemID, targetCartID string) error
	ClearItems(ctx context.Context, cartID string) error
}

// StockAdjustment reports the effect of a stock decrement.
type StockAdjustment struct {
	VariantID string
	Before    int
	After     int
	// Shortfall is the quantity that could not be taken because stock hit zero.
	Shortfall int
}

// VariantRepository reads product variants and mutates their inventory rows.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error)
	Upsert(ctx context.Context, variant domain.ProductVariant) error
	DecrementStock(ctx context.Context, variantID string, quantity int) (StockAdjustment, error)
	IncrementStock(ctx context.Context, variantID string, quantity int) error
}

// OrderRepository persists orders together with their line snapshots.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// TransitionStatus moves the order from one of the expected statuses to next. A row in
	// any other status yields a conflict error.
	TransitionStatus(ctx context.Context, orderID string, expected []domain.OrderStatus, next domain.OrderStatus, at time.Time) error
	SetPaymentReference(ctx context.Context, orderID, reference string) error
	AssignUser(ctx context.Context, orderID, userID string) error
}

// PaymentRepository persists payments and their mirrored ledger transactions.
type PaymentRepository interface {
	Create(ctx context.Context, payment domain.Payment, txn domain.Transaction) (domain.Payment, error)
	FindByReference(ctx context.Context, reference string) (domain.Payment, error)
	// TransitionStatus compare-and-sets status on both the payment and its transaction. The
	// expected version guards against interleaved writers.
	TransitionStatus(ctx context.Context, reference string, from domain.PaymentStatus, version int, to domain.PaymentStatus, at time.Time) error
	UpdateGatewayDetails(ctx context.Context, reference, providerReference, authorizationURL string) error
	FindTransaction(ctx context.Context, reference string) (domain.Transaction, error)
	CreateTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, reference string, status domain.PaymentStatus, narration string) error
}

// WebhookRepository records processed gateway events. MarkProcessed returns a conflict error
// when the event was recorded before.
type WebhookRepository interface {
	MarkProcessed(ctx context.Context, provider, reference, event string, at time.Time) error
}

// WalletRepository stores wallet balances.
type WalletRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.Wallet, error)
	Create(ctx context.Context, wallet domain.Wallet) (domain.Wallet, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Wallet, error)
}

// SubscriptionRepository stores subscriptions.
type SubscriptionRepository interface {
	FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	UpdateExpiry(ctx context.Context, subscriptionID string, expiresAt time.Time) error
}

// LoyaltyRepository stores loyalty point balances.
type LoyaltyRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.LoyaltyAccount, error)
	Create(ctx context.Context, account domain.LoyaltyAccount) (domain.LoyaltyAccount, error)
	// Deduct subtracts points, failing with a conflict error when the balance is too low.
	Deduct(ctx context.Context, userID string, points int) error
}

// UserRepository stores local user records and their address book.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	AddAddress(ctx context.Context, address domain.Address) (domain.Address, error)
}

// HealthRepository evaluates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
