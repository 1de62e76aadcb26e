package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/payments"
	"github.com/houseofkezura/backend-sub000/internal/platform/textutil"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

const (
	completionEvent          = "payment.completed"
	defaultSubscriptionDays  = 30
	transferEventNamePrefix  = "transfer."
	maxPaymentMetadataFields = 20
)

// errAlreadyCompleted aborts a completion transaction whose side effects were applied before.
var errAlreadyCompleted = errors.New("payment already completed")

// processorRegistry abstracts payments.Registry for easier testing.
type processorRegistry interface {
	Active() payments.Processor
	Get(name string) (payments.Processor, error)
}

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Processors    processorRegistry
	Payments      repositories.PaymentRepository
	Webhooks      repositories.WebhookRepository
	Orders        repositories.OrderRepository
	Variants      repositories.VariantRepository
	Carts         repositories.CartRepository
	Wallets       repositories.WalletRepository
	Subscriptions repositories.SubscriptionRepository
	Loyalty       repositories.LoyaltyRepository
	UnitOfWork    repositories.UnitOfWork
	Accounts      AccountService
	Events        EventPublisher
	Notifier      Notifier
	Meter         metric.Meter
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	processors    processorRegistry
	payments      repositories.PaymentRepository
	webhooks      repositories.WebhookRepository
	orders        repositories.OrderRepository
	variants      repositories.VariantRepository
	carts         repositories.CartRepository
	wallets       repositories.WalletRepository
	subscriptions repositories.SubscriptionRepository
	loyalty       repositories.LoyaltyRepository
	uow           repositories.UnitOfWork
	accounts      AccountService
	events        EventPublisher
	notifier      Notifier
	metrics       serviceMetrics
	now           func() time.Time
	logger        logFunc
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	switch {
	case deps.Processors == nil:
		return nil, errors.New("payment service: processor registry is required")
	case deps.Payments == nil:
		return nil, errors.New("payment service: payment repository is required")
	case deps.Webhooks == nil:
		return nil, errors.New("payment service: webhook repository is required")
	case deps.Orders == nil:
		return nil, errors.New("payment service: order repository is required")
	case deps.Variants == nil:
		return nil, errors.New("payment service: variant repository is required")
	case deps.Wallets == nil:
		return nil, errors.New("payment service: wallet repository is required")
	case deps.Subscriptions == nil:
		return nil, errors.New("payment service: subscription repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("payment service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &paymentService{
		processors:    deps.Processors,
		payments:      deps.Payments,
		webhooks:      deps.Webhooks,
		orders:        deps.Orders,
		variants:      deps.Variants,
		carts:         deps.Carts,
		wallets:       deps.Wallets,
		subscriptions: deps.Subscriptions,
		loyalty:       deps.Loyalty,
		uow:           deps.UnitOfWork,
		accounts:      deps.Accounts,
		events:        deps.Events,
		notifier:      deps.Notifier,
		metrics:       newServiceMetrics(deps.Meter),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// Initialize records a pending payment and starts it on the active gateway. A gateway
// failure still returns the reference, with the payment marked failed.
func (s *paymentService) Initialize(ctx context.Context, cmd InitializePaymentCommand) (InitializePaymentResult, error) {
	purpose := cmd.Purpose
	if purpose == nil {
		purpose = domain.WalletTopUp{}
	}
	email := strings.TrimSpace(cmd.Email)
	currency := normaliseCurrency(cmd.Currency)
	if email == "" {
		return InitializePaymentResult{}, fmt.Errorf("%w: email is required", ErrPaymentInvalidInput)
	}
	if len(cmd.Metadata) > maxPaymentMetadataFields {
		return InitializePaymentResult{}, fmt.Errorf("%w: too many metadata fields", ErrPaymentInvalidInput)
	}

	amount := cmd.Amount
	switch p := purpose.(type) {
	case domain.WalletTopUp:
		if strings.TrimSpace(cmd.UserID) == "" {
			return InitializePaymentResult{}, fmt.Errorf("%w: wallet top-up requires a user", ErrPaymentInvalidInput)
		}
	case domain.SubscriptionRenewal:
		sub, err := s.subscriptions.FindByID(ctx, p.SubscriptionID)
		if err != nil {
			return InitializePaymentResult{}, s.translateError(err)
		}
		if sub.UserID != cmd.UserID {
			return InitializePaymentResult{}, fmt.Errorf("%w: subscription belongs to another user", ErrPaymentInvalidInput)
		}
	case domain.OrderPayment:
		order, err := s.orders.FindByID(ctx, p.OrderID)
		if err != nil {
			return InitializePaymentResult{}, s.translateError(err)
		}
		if !canViewOrder(Caller{UserID: cmd.UserID, GuestToken: p.GuestToken}, order) {
			return InitializePaymentResult{}, fmt.Errorf("%w: order belongs to another customer", ErrPaymentInvalidInput)
		}
		if order.Status != domain.OrderStatusPendingPayment && order.Status != domain.OrderStatusFailed {
			return InitializePaymentResult{}, fmt.Errorf("%w: order is %s", ErrPaymentInvalidInput, order.Status)
		}
		if amount.IsZero() {
			amount = order.Total
		}
		if !amount.Equal(order.Total) {
			return InitializePaymentResult{}, fmt.Errorf("%w: amount must equal order total", ErrPaymentInvalidInput)
		}
		if currency == "" {
			currency = order.Currency
		}
	}
	if !amount.IsPositive() {
		return InitializePaymentResult{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	processor := s.processors.Active()
	reference := processor.NewReference()
	payment := domain.Payment{
		Reference: reference,
		Provider:  string(processor.Name()),
		UserID:    strings.TrimSpace(cmd.UserID),
		Email:     email,
		Amount:    amount,
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
		Purpose:   purpose,
	}
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.payments.Create(txCtx, payment, ledgerFor(payment)); err != nil {
			return err
		}
		if order, ok := purpose.(domain.OrderPayment); ok {
			return s.orders.SetPaymentReference(txCtx, order.OrderID, reference)
		}
		return nil
	})
	if err != nil {
		return InitializePaymentResult{}, s.translateError(err)
	}

	result := InitializePaymentResult{
		Reference: reference,
		Provider:  payment.Provider,
		Status:    domain.PaymentStatusPending,
	}
	resp, err := processor.InitializePayment(ctx, payments.InitializeRequest{
		Reference:    reference,
		Email:        email,
		CustomerName: cmd.CustomerName,
		Amount:       amount,
		Currency:     currency,
		CallbackURL:  cmd.CallbackURL,
		Metadata:     purposeMetadata(cmd.Metadata, purpose),
	})
	if err != nil {
		s.logger(ctx, "payment.initialize_failed", map[string]any{
			"reference": reference,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		if markErr := s.payments.TransitionStatus(ctx, reference, domain.PaymentStatusPending, 1, domain.PaymentStatusFailed, s.now()); markErr != nil {
			s.logger(ctx, "payment.mark_failed_error", map[string]any{"reference": reference, "error": markErr.Error()})
		}
		result.Status = domain.PaymentStatusFailed
		return result, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	if err := s.payments.UpdateGatewayDetails(ctx, reference, resp.ProviderReference, resp.AuthorizationURL); err != nil {
		s.logger(ctx, "payment.gateway_details_failed", map[string]any{"reference": reference, "error": err.Error()})
	}
	result.AuthorizationURL = resp.AuthorizationURL
	result.AccessCode = resp.AccessCode
	s.logger(ctx, "payment.initialized", map[string]any{
		"reference": reference,
		"provider":  payment.Provider,
		"purpose":   string(purpose.Kind()),
		"amount":    amount.String(),
	})
	return result, nil
}

func ledgerFor(payment domain.Payment) domain.Transaction {
	return domain.Transaction{
		Reference: payment.Reference,
		UserID:    payment.UserID,
		Kind:      domain.TransactionKindPayment,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    payment.Status,
		Narration: string(payment.Purpose.Kind()),
	}
}

func purposeMetadata(extra map[string]string, purpose domain.PaymentPurpose) map[string]string {
	cols := domain.EncodePurpose(purpose)
	out := make(map[string]string, len(extra)+3)
	for k, v := range textutil.NormalizeMetadata(extra, "payment_type", "order_id", "subscription_id", "reference") {
		out[k] = v
	}
	out["payment_type"] = cols.Kind
	if cols.OrderID != "" {
		out["order_id"] = cols.OrderID
	}
	if cols.SubscriptionID != "" {
		out["subscription_id"] = cols.SubscriptionID
	}
	return out
}

func normaliseCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Verify re-fetches the gateway status of a payment and reconciles the local record.
func (s *paymentService) Verify(ctx context.Context, reference string) (VerifyPaymentResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: reference is required", ErrPaymentInvalidInput)
	}
	payment, err := s.payments.FindByReference(ctx, reference)
	if err != nil {
		return VerifyPaymentResult{}, s.translateError(err)
	}
	if payment.Status == domain.PaymentStatusCompleted {
		result := resultFor(payment)
		result.AlreadyProcessed = true
		return result, nil
	}

	processor, err := s.processors.Get(payment.Provider)
	if err != nil {
		return resultFor(payment), fmt.Errorf("%w: %v", ErrPaymentUnknownProvider, err)
	}
	resp, err := processor.VerifyPayment(ctx, payments.VerifyRequest{
		Reference:         payment.Reference,
		ProviderReference: payment.ProviderReference,
	})
	if err != nil {
		s.logger(ctx, "payment.verify_failed", map[string]any{
			"reference": reference,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		return resultFor(payment), fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return s.reconcile(ctx, payment, resp.Status, resp.Amount, resp.Currency, "verify")
}

func resultFor(payment domain.Payment) VerifyPaymentResult {
	return VerifyPaymentResult{
		Reference: payment.Reference,
		Provider:  payment.Provider,
		Status:    payment.Status,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Purpose:   payment.Purpose,
	}
}

// reconcile applies a gateway-reported status to a stored payment.
func (s *paymentService) reconcile(ctx context.Context, payment domain.Payment, status payments.Status, amount decimal.Decimal, currency, source string) (VerifyPaymentResult, error) {
	result := resultFor(payment)
	switch status {
	case payments.StatusSuccess:
		if !amount.Equal(payment.Amount) || (currency != "" && !strings.EqualFold(currency, payment.Currency)) {
			s.logger(ctx, "payment.amount_mismatch", map[string]any{
				"severity":         "error",
				"reference":        payment.Reference,
				"source":           source,
				"expectedAmount":   payment.Amount.String(),
				"reportedAmount":   amount.String(),
				"expectedCurrency": payment.Currency,
				"reportedCurrency": currency,
			})
			return result, fmt.Errorf("%w: expected %s %s, gateway reported %s %s",
				ErrPaymentAmountMismatch, payment.Amount, payment.Currency, amount, currency)
		}
		return s.complete(ctx, payment)
	case payments.StatusFailed, payments.StatusAbandoned:
		next := domain.PaymentStatusFailed
		if status == payments.StatusAbandoned {
			next = domain.PaymentStatusAbandoned
		}
		return s.markTerminal(ctx, payment.Reference, next)
	default:
		return result, nil
	}
}

type completion struct {
	payment      domain.Payment
	order        *domain.Order
	orderChanged bool
}

// complete applies the purpose side effects of a successful payment exactly once. The
// processed-event row, the payment compare-and-set and the side effects share a transaction.
func (s *paymentService) complete(ctx context.Context, target domain.Payment) (VerifyPaymentResult, error) {
	reference := target.Reference
	c := completion{payment: target}
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		c = completion{payment: target}
		now := s.now()
		if err := s.webhooks.MarkProcessed(txCtx, target.Provider, reference, completionEvent, now); err != nil {
			if isConflict(err) {
				return errAlreadyCompleted
			}
			return err
		}
		payment, err := s.payments.FindByReference(txCtx, reference)
		if err != nil {
			return err
		}
		c.payment = payment
		if payment.Status == domain.PaymentStatusCompleted {
			return errAlreadyCompleted
		}
		if err := s.payments.TransitionStatus(txCtx, reference, payment.Status, payment.Version, domain.PaymentStatusCompleted, now); err != nil {
			return err
		}
		c.payment.Status = domain.PaymentStatusCompleted
		c.payment.CompletedAt = &now
		return s.applyPurpose(txCtx, &c, now)
	})
	if errors.Is(err, errAlreadyCompleted) {
		result := resultFor(c.payment)
		result.Status = domain.PaymentStatusCompleted
		result.AlreadyProcessed = true
		return result, nil
	}
	if err != nil {
		return resultFor(c.payment), s.translateError(err)
	}

	payment := c.payment
	s.metrics.completion(ctx, payment.Provider, string(payment.Purpose.Kind()))
	s.logger(ctx, "payment.completed", map[string]any{
		"reference": payment.Reference,
		"provider":  payment.Provider,
		"purpose":   string(payment.Purpose.Kind()),
		"amount":    payment.Amount.String(),
	})
	event := domain.OrderEvent{
		Type:             domain.OrderEventPaymentCompleted,
		UserID:           payment.UserID,
		PaymentReference: payment.Reference,
		Purpose:          payment.Purpose.Kind(),
		Status:           string(payment.Status),
		Amount:           payment.Amount,
		Currency:         payment.Currency,
		OccurredAt:       s.now(),
	}
	if c.order != nil {
		event.OrderID = c.order.ID
	}
	publishOrderEvent(ctx, s.events, s.logger, event)

	result := resultFor(payment)
	if c.order != nil && c.orderChanged {
		result.Promotion = s.afterOrderPaid(ctx, *c.order)
	}
	return result, nil
}

func (s *paymentService) applyPurpose(ctx context.Context, c *completion, now time.Time) error {
	payment := c.payment
	switch purpose := payment.Purpose.(type) {
	case domain.WalletTopUp:
		if payment.UserID == "" {
			return fmt.Errorf("%w: wallet top-up %s has no user", ErrPaymentInvalidInput, payment.Reference)
		}
		_, err := s.wallets.Credit(ctx, payment.UserID, payment.Amount)
		return err
	case domain.SubscriptionRenewal:
		sub, err := s.subscriptions.FindByID(ctx, purpose.SubscriptionID)
		if err != nil {
			return err
		}
		return s.subscriptions.UpdateExpiry(ctx, sub.ID, renewedExpiry(sub, now))
	case domain.OrderPayment:
		return s.settleOrder(ctx, c, purpose, now)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownPurpose, purpose)
	}
}

// renewedExpiry extends from the later of now and the current expiry.
func renewedExpiry(sub domain.Subscription, now time.Time) time.Time {
	days := sub.PeriodDays
	if days <= 0 {
		days = defaultSubscriptionDays
	}
	base := sub.ExpiresAt
	if base.Before(now) {
		base = now
	}
	return base.AddDate(0, 0, days)
}

func (s *paymentService) settleOrder(ctx context.Context, c *completion, purpose domain.OrderPayment, now time.Time) error {
	order, err := s.orders.FindByID(ctx, purpose.OrderID)
	if err != nil {
		return err
	}
	c.order = &order
	if order.Status != domain.OrderStatusPendingPayment && order.Status != domain.OrderStatusFailed {
		// The money is kept on the payment record; the order was settled or closed already.
		s.logger(ctx, "payment.order_already_settled", map[string]any{
			"severity":  "error",
			"reference": c.payment.Reference,
			"orderID":   order.ID,
			"status":    string(order.Status),
		})
		return nil
	}

	expected := []domain.OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusFailed}
	if err := s.orders.TransitionStatus(ctx, order.ID, expected, domain.OrderStatusPaid, now); err != nil {
		return err
	}
	if order.PaymentReference != c.payment.Reference {
		if err := s.orders.SetPaymentReference(ctx, order.ID, c.payment.Reference); err != nil {
			return err
		}
		order.PaymentReference = c.payment.Reference
	}

	for _, item := range order.Items {
		adj, err := s.variants.DecrementStock(ctx, item.VariantID, item.Quantity)
		if err != nil {
			return err
		}
		if adj.Shortfall > 0 {
			s.metrics.oversold(ctx, adj.Shortfall)
			s.logger(ctx, "inventory.oversold", map[string]any{
				"severity":  "error",
				"orderID":   order.ID,
				"variantID": item.VariantID,
				"requested": item.Quantity,
				"available": adj.Before,
				"shortfall": adj.Shortfall,
			})
		}
	}

	if order.PointsRedeemed > 0 && order.UserID != "" && s.loyalty != nil {
		if err := s.loyalty.Deduct(ctx, order.UserID, order.PointsRedeemed); err != nil {
			if !isConflict(err) && !isNotFound(err) {
				return err
			}
			s.logger(ctx, "loyalty.deduct_conflict", map[string]any{
				"severity": "error",
				"orderID":  order.ID,
				"userID":   order.UserID,
				"points":   order.PointsRedeemed,
			})
		}
	}

	if s.carts != nil && order.CartID != "" {
		if err := s.carts.ClearItems(ctx, order.CartID); err != nil && !isNotFound(err) {
			return err
		}
	}

	previous := order.Status
	order.Status = domain.OrderStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	c.order = &order
	c.orderChanged = true
	s.logger(ctx, "order.paid", map[string]any{
		"orderID":   order.ID,
		"from":      string(previous),
		"reference": c.payment.Reference,
	})
	return nil
}

// afterOrderPaid runs the post-commit effects of a paid order. Failures are logged only.
func (s *paymentService) afterOrderPaid(ctx context.Context, order domain.Order) PromotionResult {
	publishOrderEvent(ctx, s.events, s.logger, domain.OrderEvent{
		Type:             domain.OrderEventPaid,
		OrderID:          order.ID,
		UserID:           order.UserID,
		PaymentReference: order.PaymentReference,
		Purpose:          domain.PurposeOrderPayment,
		Status:           string(order.Status),
		Amount:           order.Total,
		Currency:         order.Currency,
		OccurredAt:       order.UpdatedAt,
	})
	if s.notifier != nil {
		if err := s.notifier.OrderConfirmation(ctx, order); err != nil {
			s.logger(ctx, "order.confirmation_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		}
	}
	if s.accounts == nil || !order.IsGuest() {
		return PromotionResult{}
	}
	promotion, err := s.accounts.PromoteGuest(ctx, order)
	if err != nil {
		s.logger(ctx, "account.promotion_failed", map[string]any{
			"severity": "error",
			"orderID":  order.ID,
			"error":    err.Error(),
		})
	}
	return promotion
}

// markTerminal moves a pending payment to failed or abandoned and fails its order.
func (s *paymentService) markTerminal(ctx context.Context, reference string, next domain.PaymentStatus) (VerifyPaymentResult, error) {
	var (
		payment     domain.Payment
		failedOrder *domain.Order
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		failedOrder = nil
		current, err := s.payments.FindByReference(txCtx, reference)
		if err != nil {
			return err
		}
		payment = current
		if current.Status != domain.PaymentStatusPending {
			return nil
		}
		now := s.now()
		if err := s.payments.TransitionStatus(txCtx, reference, current.Status, current.Version, next, now); err != nil {
			return err
		}
		payment.Status = next
		order, ok := current.Purpose.(domain.OrderPayment)
		if !ok {
			return nil
		}
		err = s.orders.TransitionStatus(txCtx, order.OrderID, []domain.OrderStatus{domain.OrderStatusPendingPayment}, domain.OrderStatusFailed, now)
		switch {
		case err == nil:
			found, findErr := s.orders.FindByID(txCtx, order.OrderID)
			if findErr != nil {
				return findErr
			}
			failedOrder = &found
		case isConflict(err):
			// Already failed or paid through another reference.
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return resultFor(payment), s.translateError(err)
	}

	s.logger(ctx, "payment.not_successful", map[string]any{"reference": reference, "status": string(payment.Status)})
	if failedOrder != nil {
		publishOrderEvent(ctx, s.events, s.logger, domain.OrderEvent{
			Type:             domain.OrderEventStatusChanged,
			OrderID:          failedOrder.ID,
			UserID:           failedOrder.UserID,
			PaymentReference: reference,
			Status:           string(domain.OrderStatusFailed),
			PreviousStatus:   string(domain.OrderStatusPendingPayment),
			Amount:           failedOrder.Total,
			Currency:         failedOrder.Currency,
			OccurredAt:       failedOrder.UpdatedAt,
		})
	}
	return resultFor(payment), nil
}

// HandleWebhook verifies, parses and applies a gateway notification. The signature is
// checked before anything is read from storage.
func (s *paymentService) HandleWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (WebhookResult, error) {
	processor, err := s.processors.Get(provider)
	if err != nil {
		s.metrics.webhookRejection(ctx, provider, "unknown_provider")
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnknownProvider, err)
	}
	name := string(processor.Name())
	if err := processor.VerifyWebhookSignature(payload, header); err != nil {
		s.metrics.webhookRejection(ctx, name, "signature")
		s.logger(ctx, "payment.webhook_rejected", map[string]any{"provider": name, "error": err.Error()})
		return WebhookResult{Provider: name}, ErrPaymentInvalidSignature
	}

	event, err := processor.ParseWebhookEvent(payload)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedEvent) {
			s.logger(ctx, "payment.webhook_ignored", map[string]any{"provider": name, "error": err.Error()})
			return WebhookResult{Provider: name, Ignored: true}, nil
		}
		s.metrics.webhookRejection(ctx, name, "malformed")
		return WebhookResult{Provider: name}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	switch event.Kind {
	case payments.EventKindPayment:
		if event.Payment == nil {
			return WebhookResult{Provider: name, Event: event.Name}, fmt.Errorf("%w: payment event without data", ErrPaymentInvalidInput)
		}
		return s.handlePaymentEvent(ctx, name, event)
	case payments.EventKindTransfer:
		if event.Transfer == nil {
			return WebhookResult{Provider: name, Event: event.Name}, fmt.Errorf("%w: transfer event without data", ErrPaymentInvalidInput)
		}
		return s.handleTransferEvent(ctx, name, event)
	default:
		return WebhookResult{Provider: name, Event: event.Name, Ignored: true}, nil
	}
}

func (s *paymentService) handlePaymentEvent(ctx context.Context, provider string, event payments.WebhookEvent) (WebhookResult, error) {
	data := event.Payment
	result := WebhookResult{Provider: provider, Event: event.Name, Reference: data.Reference}

	payment, err := s.payments.FindByReference(ctx, data.Reference)
	if err != nil {
		if isNotFound(err) {
			return result, &TransactionMissingError{Provider: provider, Reference: data.Reference}
		}
		return result, s.translateError(err)
	}
	if payment.Provider != provider {
		return result, &TransactionMissingError{Provider: provider, Reference: data.Reference}
	}

	var verified VerifyPaymentResult
	if data.Status == payments.StatusSuccess && data.Amount.IsZero() {
		// Some gateways omit the amount from notifications; ask the gateway directly.
		verified, err = s.Verify(ctx, payment.Reference)
	} else {
		verified, err = s.reconcile(ctx, payment, data.Status, data.Amount, data.Currency, "webhook")
	}
	if err != nil {
		return result, err
	}
	result.AlreadyProcessed = verified.AlreadyProcessed
	return result, nil
}

func (s *paymentService) handleTransferEvent(ctx context.Context, provider string, event payments.WebhookEvent) (WebhookResult, error) {
	data := event.Transfer
	result := WebhookResult{Provider: provider, Event: event.Name, Reference: data.Reference}

	var next domain.PaymentStatus
	switch data.Status {
	case payments.StatusSuccess:
		next = domain.PaymentStatusCompleted
	case payments.StatusFailed:
		next = domain.PaymentStatusFailed
	case payments.StatusAbandoned:
		next = domain.PaymentStatusAbandoned
	default:
		result.Ignored = true
		return result, nil
	}

	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		txn, err := s.payments.FindTransaction(txCtx, data.Reference)
		if err != nil {
			if isNotFound(err) {
				return &TransactionMissingError{Provider: provider, Reference: data.Reference}
			}
			return err
		}
		if txn.Kind != domain.TransactionKindTransfer {
			return &TransactionMissingError{Provider: provider, Reference: data.Reference}
		}
		if err := s.webhooks.MarkProcessed(txCtx, provider, data.Reference, transferEventNamePrefix+string(next), s.now()); err != nil {
			if isConflict(err) {
				return errAlreadyCompleted
			}
			return err
		}
		return s.payments.UpdateTransactionStatus(txCtx, data.Reference, next, data.Reason)
	})
	switch {
	case errors.Is(err, errAlreadyCompleted):
		result.AlreadyProcessed = true
		return result, nil
	case err != nil:
		var missing *TransactionMissingError
		if errors.As(err, &missing) {
			return result, err
		}
		return result, s.translateError(err)
	}
	s.logger(ctx, "transfer.updated", map[string]any{
		"provider":  provider,
		"reference": data.Reference,
		"status":    string(next),
	})
	return result, nil
}

// CaptureOrderPayment registers a client-side gateway reference for an order and verifies it
// with the gateway before anything is marked paid.
func (s *paymentService) CaptureOrderPayment(ctx context.Context, cmd CaptureOrderPaymentCommand) (VerifyPaymentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	reference := strings.TrimSpace(cmd.Reference)
	if orderID == "" || reference == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order id and reference are required", ErrPaymentInvalidInput)
	}
	if !cmd.Amount.IsPositive() {
		return VerifyPaymentResult{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}

	existing, err := s.payments.FindByReference(ctx, reference)
	switch {
	case err == nil:
		order, ok := existing.Purpose.(domain.OrderPayment)
		if !ok || order.OrderID != orderID {
			return resultFor(existing), ErrPaymentReferenceInUse
		}
	case isNotFound(err):
		processor := s.processors.Active()
		purpose := domain.OrderPayment{OrderID: orderID, GuestToken: cmd.GuestToken}
		currency := normaliseCurrency(cmd.Currency)
		if currency == "" {
			currency = domain.DefaultCurrency
		}
		payment := domain.Payment{
			Reference:         reference,
			ProviderReference: reference,
			Provider:          string(processor.Name()),
			UserID:            strings.TrimSpace(cmd.UserID),
			Email:             strings.TrimSpace(cmd.Email),
			Amount:            cmd.Amount,
			Currency:          currency,
			Status:            domain.PaymentStatusPending,
			Purpose:           purpose,
		}
		err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
			if _, err := s.payments.Create(txCtx, payment, ledgerFor(payment)); err != nil {
				return err
			}
			return s.orders.SetPaymentReference(txCtx, orderID, reference)
		})
		if err != nil {
			if isConflict(err) {
				return VerifyPaymentResult{}, ErrPaymentReferenceInUse
			}
			return VerifyPaymentResult{}, s.translateError(err)
		}
	default:
		return VerifyPaymentResult{}, s.translateError(err)
	}
	return s.Verify(ctx, reference)
}

// RecordTransfer stores an outbound transfer so its gateway notification can be reconciled.
func (s *paymentService) RecordTransfer(ctx context.Context, cmd RecordTransferCommand) (domain.Transaction, error) {
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return domain.Transaction{}, fmt.Errorf("%w: reference is required", ErrPaymentInvalidInput)
	}
	if !cmd.Amount.IsPositive() {
		return domain.Transaction{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	currency := normaliseCurrency(cmd.Currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	txn, err := s.payments.CreateTransaction(ctx, domain.Transaction{
		Reference: reference,
		UserID:    strings.TrimSpace(cmd.UserID),
		Kind:      domain.TransactionKindTransfer,
		Amount:    cmd.Amount,
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
		Narration: strings.TrimSpace(cmd.Narration),
	})
	if err != nil {
		if isConflict(err) {
			return domain.Transaction{}, ErrPaymentReferenceInUse
		}
		return domain.Transaction{}, s.translateError(err)
	}
	s.logger(ctx, "transfer.recorded", map[string]any{"reference": reference, "amount": cmd.Amount.String()})
	return txn, nil
}

func (s *paymentService) translateError(err error) error {
	var missing *TransactionMissingError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &missing),
		errors.Is(err, ErrPaymentInvalidInput),
		errors.Is(err, ErrPaymentAmountMismatch),
		errors.Is(err, ErrPaymentReferenceInUse),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case isNotFound(err):
		return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
	case isConflict(err):
		return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	default:
		return fmt.Errorf("payment: %w", err)
	}
}
