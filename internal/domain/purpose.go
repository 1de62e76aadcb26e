package domain

import (
	"errors"
	"fmt"
	"strings"
)

// PurposeKind is the persisted discriminator of a PaymentPurpose.
type PurposeKind string

const (
	PurposeWalletTopUp  PurposeKind = "wallet_top_up"
	PurposeOrderPayment PurposeKind = "order_payment"
	PurposeSubscription PurposeKind = "subscription"
)

// ErrUnknownPurpose is returned when stored purpose columns cannot be decoded.
var ErrUnknownPurpose = errors.New("domain: unknown payment purpose")

// PaymentPurpose says what a completed payment pays for. It is one of
// WalletTopUp, OrderPayment or SubscriptionRenewal.
type PaymentPurpose interface {
	Kind() PurposeKind
	isPaymentPurpose()
}

// WalletTopUp credits the payer's wallet.
type WalletTopUp struct{}

// OrderPayment settles an order. GuestToken identifies the originating guest cart, if any.
type OrderPayment struct {
	OrderID    string
	GuestToken string
}

// SubscriptionRenewal extends a subscription.
type SubscriptionRenewal struct {
	SubscriptionID string
}

func (WalletTopUp) Kind() PurposeKind         { return PurposeWalletTopUp }
func (OrderPayment) Kind() PurposeKind        { return PurposeOrderPayment }
func (SubscriptionRenewal) Kind() PurposeKind { return PurposeSubscription }

func (WalletTopUp) isPaymentPurpose()         {}
func (OrderPayment) isPaymentPurpose()        {}
func (SubscriptionRenewal) isPaymentPurpose() {}

// PurposeColumns is the flattened storage form of a PaymentPurpose.
type PurposeColumns struct {
	Kind           string
	OrderID        string
	SubscriptionID string
	GuestToken     string
}

// EncodePurpose flattens a purpose for persistence.
func EncodePurpose(p PaymentPurpose) PurposeColumns {
	switch v := p.(type) {
	case OrderPayment:
		return PurposeColumns{Kind: string(PurposeOrderPayment), OrderID: v.OrderID, GuestToken: v.GuestToken}
	case SubscriptionRenewal:
		return PurposeColumns{Kind: string(PurposeSubscription), SubscriptionID: v.SubscriptionID}
	default:
		return PurposeColumns{Kind: string(PurposeWalletTopUp)}
	}
}

// DecodePurpose rebuilds a purpose from its storage columns.
func DecodePurpose(cols PurposeColumns) (PaymentPurpose, error) {
	switch PurposeKind(strings.TrimSpace(cols.Kind)) {
	case PurposeWalletTopUp:
		return WalletTopUp{}, nil
	case PurposeOrderPayment:
		if strings.TrimSpace(cols.OrderID) == "" {
			return nil, fmt.Errorf("%w: order payment without order id", ErrUnknownPurpose)
		}
		return OrderPayment{OrderID: cols.OrderID, GuestToken: cols.GuestToken}, nil
	case PurposeSubscription:
		if strings.TrimSpace(cols.SubscriptionID) == "" {
			return nil, fmt.Errorf("%w: subscription payment without subscription id", ErrUnknownPurpose)
		}
		return SubscriptionRenewal{SubscriptionID: cols.SubscriptionID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPurpose, cols.Kind)
	}
}
