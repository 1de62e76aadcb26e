package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/pagination"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment: {domain.OrderStatusPaid, domain.OrderStatusFailed},
	domain.OrderStatusFailed:         {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:           {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:        {domain.OrderStatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// restocksOnCancel reports whether cancelling from status must return stock, i.e. stock
// was taken when the order was paid.
func restocksOnCancel(from domain.OrderStatus) bool {
	return from == domain.OrderStatusPaid || from == domain.OrderStatusProcessing
}

func knownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusPaid, domain.OrderStatusFailed,
		domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered,
		domain.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Variants   repositories.VariantRepository
	UnitOfWork repositories.UnitOfWork
	Events     EventPublisher
	Notifier   Notifier
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	variants repositories.VariantRepository
	uow      repositories.UnitOfWork
	events   EventPublisher
	notifier Notifier
	now      func() time.Time
	logger   logFunc
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("order service: variant repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderService{
		orders:   deps.Orders,
		variants: deps.Variants,
		uow:      deps.UnitOfWork,
		events:   deps.Events,
		notifier: deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// Get returns an order visible to the caller: the owning user, or the guest whose token
// placed it. The guest keeps access after the order is promoted to an account.
func (s *orderService) Get(ctx context.Context, caller Caller, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateOrderError(err)
	}
	if !canViewOrder(caller, order) {
		return domain.Order{}, ErrOrderForbidden
	}
	return order, nil
}

func canViewOrder(caller Caller, order domain.Order) bool {
	if order.UserID != "" && caller.UserID == order.UserID {
		return true
	}
	if order.GuestToken == "" || caller.GuestToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(order.GuestToken), []byte(caller.GuestToken)) == 1
}

// List pages the authenticated caller's orders, newest first.
func (s *orderService) List(ctx context.Context, caller Caller, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID := strings.TrimSpace(caller.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, ErrOrderForbidden
	}
	if pager.PageSize < 0 {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: page size must be positive", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, translateOrderError(err)
	}
	return page, nil
}

// TransitionStatus applies an administrative status change. Orders only become paid through
// payment completion.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	next := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if orderID == "" || !knownOrderStatus(next) {
		return domain.Order{}, fmt.Errorf("%w: order id and a known status are required", ErrOrderInvalidInput)
	}
	if next == domain.OrderStatusPaid {
		return domain.Order{}, fmt.Errorf("%w: orders are marked paid by payment completion", ErrOrderInvalidTransition)
	}

	var (
		previous domain.OrderStatus
		order    domain.Order
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current.Status, next)
		}
		now := s.now()
		if err := s.orders.TransitionStatus(txCtx, orderID, []domain.OrderStatus{current.Status}, next, now); err != nil {
			return err
		}
		if next == domain.OrderStatusCancelled && restocksOnCancel(current.Status) {
			for _, item := range current.Items {
				if err := s.variants.IncrementStock(txCtx, item.VariantID, item.Quantity); err != nil {
					return err
				}
			}
			s.logger(ctx, "order.restocked", map[string]any{"orderID": orderID, "lines": len(current.Items)})
		}
		previous = current.Status
		order = current
		order.Status = next
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, translateOrderError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"orderID": orderID,
		"from":    string(previous),
		"to":      string(next),
		"actorID": cmd.ActorID,
		"reason":  cmd.Reason,
	})
	publishOrderEvent(ctx, s.events, s.logger, domain.OrderEvent{
		Type:           domain.OrderEventStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         string(next),
		PreviousStatus: string(previous),
		Amount:         order.Total,
		Currency:       order.Currency,
		OccurredAt:     order.UpdatedAt,
	})
	if s.notifier != nil {
		if err := s.notifier.OrderStatusChanged(ctx, order, previous); err != nil {
			s.logger(ctx, "order.notify_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		}
	}
	return order, nil
}

// publishOrderEvent delivers an event after commit. Failures are logged only.
func publishOrderEvent(ctx context.Context, publisher EventPublisher, logger logFunc, event domain.OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event_publish_failed", map[string]any{
			"type":    string(event.Type),
			"orderID": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func translateOrderError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderInvalidInput),
		errors.Is(err, ErrOrderInvalidTransition),
		errors.Is(err, ErrOrderForbidden),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case isNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	default:
		return fmt.Errorf("order: %w", err)
	}
}
