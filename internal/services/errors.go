package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

var (
	// ErrShippingUnknownMethod indicates the shipping method is not offered.
	ErrShippingUnknownMethod = errors.New("shipping: unknown method")

	// ErrCartInvalidInput signals the caller supplied invalid cart data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartNotFound indicates the cart or line does not exist.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartForbidden indicates the caller does not own the cart.
	ErrCartForbidden = errors.New("cart: forbidden")
	// ErrCartVariantNotFound indicates the requested variant does not exist.
	ErrCartVariantNotFound = errors.New("cart: variant not found")
	// ErrCartInsufficientStock indicates the requested quantity exceeds stock.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
	// ErrCartUnavailable indicates cart storage is unavailable.
	ErrCartUnavailable = errors.New("cart: unavailable")

	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartNotFound indicates no cart matched the caller.
	ErrCheckoutCartNotFound = errors.New("checkout: cart not found")
	// ErrCheckoutForbidden indicates the caller does not own the requested cart.
	ErrCheckoutForbidden = errors.New("checkout: forbidden")
	// ErrCheckoutEmptyCart indicates the cart has no lines.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutInsufficientStock indicates a line exceeds available stock.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPaymentFailed indicates the order was created but its payment did not succeed.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")

	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller cannot see the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates an invalid status transition was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent status change.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates order storage is unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// ErrPaymentInvalidInput signals an invalid payment request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no payment exists for the reference.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentGateway indicates the gateway call failed.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentAmountMismatch indicates the gateway amount differs from the stored amount.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrPaymentInvalidSignature indicates a webhook failed signature verification.
	ErrPaymentInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrPaymentUnknownProvider indicates the webhook names an unconfigured gateway.
	ErrPaymentUnknownProvider = errors.New("payment: unknown provider")
	// ErrPaymentReferenceInUse indicates the reference already belongs to another payment.
	ErrPaymentReferenceInUse = errors.New("payment: reference already used")
	// ErrPaymentConflict indicates a concurrent update won the race.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentUnavailable indicates payment storage is unavailable.
	ErrPaymentUnavailable = errors.New("payment: unavailable")

	// ErrAccountCreateFailed indicates the local account rows could not be written.
	ErrAccountCreateFailed = errors.New("account: create failed")
)

// TransactionMissingError is returned when a gateway event names a reference with no local
// payment or transfer. Gateways retry on non-2xx responses, so this surfaces as 404.
type TransactionMissingError struct {
	Provider  string
	Reference string
}

func (e *TransactionMissingError) Error() string {
	return fmt.Sprintf("payment: no transaction for %s reference %q", e.Provider, e.Reference)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

type logFunc func(ctx context.Context, event string, fields map[string]any)

func loggerOrNoop(logger func(ctx context.Context, event string, fields map[string]any)) logFunc {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}
