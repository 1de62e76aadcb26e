package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

var (
	loyaltyPointValue  = decimal.NewFromInt(10)
	loyaltyDiscountCap = decimal.NewFromFloat(0.5)
)

// LoyaltyDiscount converts requested points into a discount capped at half the subtotal and
// returns the points actually consumed.
func LoyaltyDiscount(pointsRequested int, subtotal decimal.Decimal) (decimal.Decimal, int) {
	if pointsRequested <= 0 || !subtotal.IsPositive() {
		return decimal.Zero, 0
	}
	discount := decimal.Min(decimal.NewFromInt(int64(pointsRequested)).Mul(loyaltyPointValue), subtotal.Mul(loyaltyDiscountCap))
	return discount, int(discount.Div(loyaltyPointValue).Floor().IntPart())
}

// checkoutPayments is the part of PaymentService checkout drives.
type checkoutPayments interface {
	Initialize(ctx context.Context, cmd InitializePaymentCommand) (InitializePaymentResult, error)
	CaptureOrderPayment(ctx context.Context, cmd CaptureOrderPaymentCommand) (VerifyPaymentResult, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts      repositories.CartRepository
	Variants   repositories.VariantRepository
	Orders     repositories.OrderRepository
	Loyalty    repositories.LoyaltyRepository
	UnitOfWork repositories.UnitOfWork
	Payments   checkoutPayments
	Events     EventPublisher
	// Sanitizer strips markup from customer-entered text; defaults to a strict policy.
	Sanitizer *bluemonday.Policy
	Meter     metric.Meter
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts     repositories.CartRepository
	variants  repositories.VariantRepository
	orders    repositories.OrderRepository
	loyalty   repositories.LoyaltyRepository
	uow       repositories.UnitOfWork
	payments  checkoutPayments
	events    EventPublisher
	sanitizer *bluemonday.Policy
	metrics   serviceMetrics
	now       func() time.Time
	logger    logFunc
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Variants == nil:
		return nil, errors.New("checkout service: variant repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}
	return &checkoutService{
		carts:     deps.Carts,
		variants:  deps.Variants,
		orders:    deps.Orders,
		loyalty:   deps.Loyalty,
		uow:       deps.UnitOfWork,
		payments:  deps.Payments,
		events:    deps.Events,
		sanitizer: sanitizer,
		metrics:   newServiceMetrics(deps.Meter),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// Checkout prices the caller's cart into a pending order, then captures or starts its payment.
// Payment failures keep the order as failed and return its id alongside ErrCheckoutPaymentFailed.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cmd, err := s.normalise(cmd)
	if err != nil {
		s.metrics.checkout(ctx, "invalid")
		return CheckoutResult{}, err
	}

	var order domain.Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.loadCart(txCtx, cmd)
		if err != nil {
			return err
		}
		order, err = s.priceOrder(txCtx, cmd, cart)
		if err != nil {
			return err
		}
		order, err = s.orders.Create(txCtx, order)
		return err
	})
	if err != nil {
		s.metrics.checkout(ctx, "rejected")
		return CheckoutResult{}, s.translateError(err)
	}

	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderID": order.ID,
		"cartID":  order.CartID,
		"userID":  order.UserID,
		"total":   order.Total.String(),
	})
	publishOrderEvent(ctx, s.events, s.logger, domain.OrderEvent{
		Type:       domain.OrderEventCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Amount:     order.Total,
		Currency:   order.Currency,
		OccurredAt: order.CreatedAt,
	})

	result := CheckoutResult{
		OrderID:        order.ID,
		Status:         order.Status,
		PaymentStatus:  domain.PaymentStatusPending,
		Subtotal:       order.Subtotal,
		Shipping:       order.ShippingCost,
		Discount:       order.Discount,
		Total:          order.Total,
		PointsRedeemed: order.PointsRedeemed,
	}

	if cmd.PaymentReference != "" {
		return s.capture(ctx, cmd, order, result)
	}
	return s.startPayment(ctx, cmd, order, result)
}

func (s *checkoutService) capture(ctx context.Context, cmd CheckoutCommand, order domain.Order, result CheckoutResult) (CheckoutResult, error) {
	result.PaymentReference = cmd.PaymentReference
	verified, err := s.payments.CaptureOrderPayment(ctx, CaptureOrderPaymentCommand{
		OrderID:    order.ID,
		Reference:  cmd.PaymentReference,
		UserID:     order.UserID,
		GuestToken: order.GuestToken,
		Email:      order.Email,
		Amount:     order.Total,
		Currency:   order.Currency,
	})
	if verified.Status != "" {
		result.PaymentStatus = verified.Status
	}
	if err == nil && (verified.Status == domain.PaymentStatusFailed || verified.Status == domain.PaymentStatusAbandoned) {
		err = fmt.Errorf("gateway reported %s", verified.Status)
	}
	if err != nil {
		return s.fail(ctx, order, result, err)
	}

	result.Success = true
	if verified.Status == domain.PaymentStatusCompleted {
		result.Status = domain.OrderStatusPaid
	}
	result.AutoAccountCreated = verified.Promotion.Created
	result.AccountExternalID = verified.Promotion.UserID
	s.metrics.checkout(ctx, "captured")
	return result, nil
}

func (s *checkoutService) startPayment(ctx context.Context, cmd CheckoutCommand, order domain.Order, result CheckoutResult) (CheckoutResult, error) {
	started, err := s.payments.Initialize(ctx, InitializePaymentCommand{
		UserID:       order.UserID,
		Email:        order.Email,
		CustomerName: order.CustomerName,
		Amount:       order.Total,
		Currency:     order.Currency,
		Purpose:      domain.OrderPayment{OrderID: order.ID, GuestToken: order.GuestToken},
		CallbackURL:  cmd.CallbackURL,
	})
	result.PaymentReference = started.Reference
	if err != nil {
		if started.Status != "" {
			result.PaymentStatus = started.Status
		}
		return s.fail(ctx, order, result, err)
	}
	result.Success = true
	result.AuthorizationURL = started.AuthorizationURL
	s.metrics.checkout(ctx, "initialized")
	return result, nil
}

// fail marks a still-pending order failed. Orders are kept for audit.
func (s *checkoutService) fail(ctx context.Context, order domain.Order, result CheckoutResult, cause error) (CheckoutResult, error) {
	s.metrics.checkout(ctx, "payment_failed")
	s.logger(ctx, "checkout.payment_failed", map[string]any{
		"orderID":   order.ID,
		"reference": result.PaymentReference,
		"error":     cause.Error(),
	})
	err := s.orders.TransitionStatus(ctx, order.ID, []domain.OrderStatus{domain.OrderStatusPendingPayment}, domain.OrderStatusFailed, s.now())
	switch {
	case err == nil:
		publishOrderEvent(ctx, s.events, s.logger, domain.OrderEvent{
			Type:             domain.OrderEventStatusChanged,
			OrderID:          order.ID,
			UserID:           order.UserID,
			PaymentReference: result.PaymentReference,
			Status:           string(domain.OrderStatusFailed),
			PreviousStatus:   string(domain.OrderStatusPendingPayment),
			Amount:           order.Total,
			Currency:         order.Currency,
			OccurredAt:       s.now(),
		})
	case !isConflict(err):
		s.logger(ctx, "checkout.mark_failed_error", map[string]any{"orderID": order.ID, "error": err.Error()})
	}
	result.Success = false
	result.Status = domain.OrderStatusFailed
	if result.PaymentStatus == domain.PaymentStatusPending {
		result.PaymentStatus = domain.PaymentStatusFailed
	}
	return result, fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, cause)
}

func (s *checkoutService) normalise(cmd CheckoutCommand) (CheckoutCommand, error) {
	caller, err := normaliseCaller(cmd.Caller)
	if err != nil {
		return cmd, fmt.Errorf("%w: malformed guest token", ErrCheckoutInvalidInput)
	}
	cmd.Caller = caller
	// Markup is stripped; entities the policy escapes are restored so names keep apostrophes.
	clean := func(v string) string {
		return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(strings.TrimSpace(v))))
	}
	cmd.CartID = strings.TrimSpace(cmd.CartID)
	cmd.Email = strings.ToLower(clean(cmd.Email))
	cmd.FirstName = clean(cmd.FirstName)
	cmd.LastName = clean(cmd.LastName)
	cmd.Phone = clean(cmd.Phone)
	cmd.PaymentReference = strings.TrimSpace(cmd.PaymentReference)
	cmd.CallbackURL = strings.TrimSpace(cmd.CallbackURL)
	cmd.ShippingMethod = domain.ShippingMethod(strings.ToLower(strings.TrimSpace(string(cmd.ShippingMethod))))
	if cmd.ShippingMethod == "" {
		cmd.ShippingMethod = domain.ShippingStandard
	}

	addr := cmd.ShippingAddress
	addr.FirstName = clean(addr.FirstName)
	addr.LastName = clean(addr.LastName)
	addr.Line1 = clean(addr.Line1)
	addr.Line2 = clean(addr.Line2)
	addr.City = clean(addr.City)
	addr.State = clean(addr.State)
	addr.PostalCode = clean(addr.PostalCode)
	addr.Country = strings.ToUpper(clean(addr.Country))
	addr.Phone = clean(addr.Phone)
	if addr.FirstName == "" {
		addr.FirstName = cmd.FirstName
	}
	if addr.LastName == "" {
		addr.LastName = cmd.LastName
	}
	if addr.Phone == "" {
		addr.Phone = cmd.Phone
	}
	addr.ID = ""
	addr.UserID = ""
	addr.IsDefault = false
	cmd.ShippingAddress = addr

	var missing []string
	if cmd.Email == "" {
		missing = append(missing, "email")
	} else if _, err := mail.ParseAddress(cmd.Email); err != nil {
		return cmd, fmt.Errorf("%w: email is invalid", ErrCheckoutInvalidInput)
	}
	if addr.Line1 == "" {
		missing = append(missing, "shipping address line1")
	}
	if addr.City == "" {
		missing = append(missing, "shipping address city")
	}
	if len(addr.Country) != 2 {
		missing = append(missing, "shipping address country")
	}
	if !cmd.Caller.IsAuthenticated() {
		if cmd.FirstName == "" {
			missing = append(missing, "first name")
		}
		if cmd.LastName == "" {
			missing = append(missing, "last name")
		}
		if cmd.Phone == "" {
			missing = append(missing, "phone")
		}
	}
	if len(missing) > 0 {
		return cmd, fmt.Errorf("%w: missing %s", ErrCheckoutInvalidInput, strings.Join(missing, ", "))
	}
	if cmd.RedeemPoints {
		if !cmd.Caller.IsAuthenticated() {
			return cmd, fmt.Errorf("%w: guests cannot redeem points", ErrCheckoutInvalidInput)
		}
		if cmd.PointsRequested <= 0 {
			return cmd, fmt.Errorf("%w: points requested must be positive", ErrCheckoutInvalidInput)
		}
	}
	return cmd, nil
}

func (s *checkoutService) loadCart(ctx context.Context, cmd CheckoutCommand) (domain.Cart, error) {
	var (
		cart domain.Cart
		err  error
	)
	switch {
	case cmd.CartID != "":
		cart, err = s.carts.FindByID(ctx, cmd.CartID)
		if err == nil && !ownsCart(cmd.Caller, cart) {
			return domain.Cart{}, ErrCheckoutForbidden
		}
	case cmd.Caller.IsAuthenticated():
		cart, err = s.carts.FindByUserID(ctx, cmd.Caller.UserID)
	case cmd.Caller.GuestToken != "":
		cart, err = s.carts.FindByGuestToken(ctx, cmd.Caller.GuestToken)
	default:
		return domain.Cart{}, ErrCheckoutCartNotFound
	}
	if err != nil {
		if isNotFound(err) {
			return domain.Cart{}, ErrCheckoutCartNotFound
		}
		return domain.Cart{}, err
	}
	if len(cart.Items) == 0 {
		return domain.Cart{}, ErrCheckoutEmptyCart
	}
	return cart, nil
}

func (s *checkoutService) priceOrder(ctx context.Context, cmd CheckoutCommand, cart domain.Cart) (domain.Order, error) {
	subtotal := decimal.Zero
	weight := 0
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		variant, err := s.variants.FindByID(ctx, line.VariantID)
		if err != nil {
			if isNotFound(err) {
				return domain.Order{}, fmt.Errorf("%w: %w", ErrCheckoutInsufficientStock, repositories.NewInsufficientStockError(line.VariantID, line.Quantity, 0))
			}
			return domain.Order{}, err
		}
		if variant.Stock < line.Quantity {
			return domain.Order{}, fmt.Errorf("%w: %w", ErrCheckoutInsufficientStock, repositories.NewInsufficientStockError(variant.ID, line.Quantity, variant.Stock))
		}
		subtotal = subtotal.Add(line.LineTotal())
		weight += variant.WeightGrams * line.Quantity
		items = append(items, domain.OrderItem{
			VariantID: variant.ID,
			SKU:       variant.SKU,
			Name:      variant.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	shipping, err := CalculateShippingCost(cmd.ShippingAddress.Country, weight, cmd.ShippingMethod)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	discount, pointsRedeemed := decimal.Zero, 0
	if cmd.RedeemPoints {
		if s.loyalty == nil {
			return domain.Order{}, fmt.Errorf("%w: loyalty redemption is unavailable", ErrCheckoutInvalidInput)
		}
		account, err := s.loyalty.FindByUser(ctx, cmd.Caller.UserID)
		if err != nil {
			if isNotFound(err) {
				return domain.Order{}, fmt.Errorf("%w: no loyalty account", ErrCheckoutInvalidInput)
			}
			return domain.Order{}, err
		}
		if account.Points < cmd.PointsRequested {
			return domain.Order{}, fmt.Errorf("%w: only %d points available", ErrCheckoutInvalidInput, account.Points)
		}
		discount, pointsRedeemed = LoyaltyDiscount(cmd.PointsRequested, subtotal)
	}

	name := strings.TrimSpace(cmd.FirstName + " " + cmd.LastName)
	if name == "" {
		name = strings.TrimSpace(cmd.ShippingAddress.FirstName + " " + cmd.ShippingAddress.LastName)
	}
	return domain.Order{
		UserID:          cart.UserID,
		GuestToken:      cart.GuestToken,
		CartID:          cart.ID,
		Email:           cmd.Email,
		CustomerName:    name,
		Phone:           cmd.Phone,
		Status:          domain.OrderStatusPendingPayment,
		Currency:        domain.DefaultCurrency,
		Subtotal:        subtotal,
		ShippingCost:    shipping,
		Discount:        discount,
		Total:           subtotal.Add(shipping).Sub(discount),
		PointsRedeemed:  pointsRedeemed,
		ShippingMethod:  cmd.ShippingMethod,
		ShippingAddress: cmd.ShippingAddress,
		Items:           items,
	}, nil
}

func (s *checkoutService) translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCheckoutInvalidInput),
		errors.Is(err, ErrCheckoutCartNotFound),
		errors.Is(err, ErrCheckoutForbidden),
		errors.Is(err, ErrCheckoutEmptyCart),
		errors.Is(err, ErrCheckoutInsufficientStock),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case isNotFound(err):
		return fmt.Errorf("%w: %v", ErrCheckoutCartNotFound, err)
	case isUnavailable(err), isConflict(err):
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	default:
		return fmt.Errorf("checkout: %w", err)
	}
}
