package services

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
)

// Caller identifies who is acting on a request. UserID is set for authenticated users,
// GuestToken for anonymous shoppers; both may be present while a guest signs in.
type Caller struct {
	UserID     string
	GuestToken string
}

// IsAuthenticated reports whether the caller carries a user identity.
func (c Caller) IsAuthenticated() bool {
	return c.UserID != ""
}

// CartService resolves and mutates shopping carts.
type CartService interface {
	Resolve(ctx context.Context, caller Caller) (domain.Cart, error)
	AddItem(ctx context.Context, caller Caller, cmd AddCartItemCommand) (domain.Cart, error)
	UpdateItem(ctx context.Context, caller Caller, cmd UpdateCartItemCommand) (domain.Cart, error)
	RemoveItem(ctx context.Context, caller Caller, itemID string) (domain.Cart, error)
}

// AddCartItemCommand adds quantity units of a variant.
type AddCartItemCommand struct {
	VariantID string
	Quantity  int
}

// UpdateCartItemCommand sets a line quantity; zero removes the line.
type UpdateCartItemCommand struct {
	ItemID   string
	Quantity int
}

// CheckoutService turns a cart into an order and starts or captures its payment.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CheckoutCommand carries everything checkout needs. PaymentReference, when present, is a
// gateway reference produced client-side and is verified with the gateway before use.
type CheckoutCommand struct {
	Caller           Caller
	CartID           string
	Email            string
	FirstName        string
	LastName         string
	Phone            string
	ShippingAddress  domain.Address
	ShippingMethod   domain.ShippingMethod
	RedeemPoints     bool
	PointsRequested  int
	PaymentReference string
	CallbackURL      string
}

// CheckoutResult summarises the created order and payment state.
type CheckoutResult struct {
	Success            bool
	OrderID            string
	Status             domain.OrderStatus
	PaymentStatus      domain.PaymentStatus
	PaymentReference   string
	AuthorizationURL   string
	Subtotal           decimal.Decimal
	Shipping           decimal.Decimal
	Discount           decimal.Decimal
	Total              decimal.Decimal
	PointsRedeemed     int
	AutoAccountCreated bool
	AccountExternalID  string
}

// OrderService reads orders and drives the post-payment fulfilment lifecycle.
type OrderService interface {
	Get(ctx context.Context, caller Caller, orderID string) (domain.Order, error)
	List(ctx context.Context, caller Caller, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (domain.Order, error)
}

// OrderStatusCommand requests an administrative status change.
type OrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	ActorID string
	Reason  string
}

// PaymentService owns the payment lifecycle across gateways.
type PaymentService interface {
	Initialize(ctx context.Context, cmd InitializePaymentCommand) (InitializePaymentResult, error)
	Verify(ctx context.Context, reference string) (VerifyPaymentResult, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (WebhookResult, error)
	CaptureOrderPayment(ctx context.Context, cmd CaptureOrderPaymentCommand) (VerifyPaymentResult, error)
	RecordTransfer(ctx context.Context, cmd RecordTransferCommand) (domain.Transaction, error)
}

// InitializePaymentCommand starts a hosted gateway payment.
type InitializePaymentCommand struct {
	UserID       string
	Email        string
	CustomerName string
	Amount       decimal.Decimal
	Currency     string
	Purpose      domain.PaymentPurpose
	CallbackURL  string
	Metadata     map[string]string
}

// InitializePaymentResult is returned even when the gateway call fails so the caller can
// surface the reference.
type InitializePaymentResult struct {
	Reference        string
	Provider         string
	AuthorizationURL string
	AccessCode       string
	Status           domain.PaymentStatus
}

// VerifyPaymentResult reports the local payment state after reconciliation.
type VerifyPaymentResult struct {
	Reference        string
	Provider         string
	Status           domain.PaymentStatus
	Amount           decimal.Decimal
	Currency         string
	Purpose          domain.PaymentPurpose
	AlreadyProcessed bool
	Promotion        PromotionResult
}

// CaptureOrderPaymentCommand registers a client-side gateway reference against an order.
type CaptureOrderPaymentCommand struct {
	OrderID    string
	Reference  string
	UserID     string
	GuestToken string
	Email      string
	Amount     decimal.Decimal
	Currency   string
}

// RecordTransferCommand records an outbound transfer so its webhook can be reconciled.
type RecordTransferCommand struct {
	Reference string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Narration string
}

// WebhookResult describes how a verified webhook was handled.
type WebhookResult struct {
	Provider         string
	Event            string
	Reference        string
	Ignored          bool
	AlreadyProcessed bool
}

// AccountService creates accounts for qualifying guest orders.
type AccountService interface {
	PromoteGuest(ctx context.Context, order domain.Order) (PromotionResult, error)
}

// PromotionResult reports whether a guest order produced a new account.
type PromotionResult struct {
	Eligible bool
	Created  bool
	UserID   string
}

// IdentityProvider creates users in the external authentication system.
type IdentityProvider interface {
	Name() string
	CreateUser(ctx context.Context, user NewIdentityUser) (string, error)
}

// NewIdentityUser is the profile submitted to the identity provider.
type NewIdentityUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// EventPublisher delivers order lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// Notifier sends transactional customer email.
type Notifier interface {
	OrderConfirmation(ctx context.Context, order domain.Order) error
	OrderStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error
	Welcome(ctx context.Context, user domain.User, order domain.Order) error
}
