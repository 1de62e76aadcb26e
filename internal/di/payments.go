package di

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/houseofkezura/backend-sub000/internal/payments"
	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/platform/observability"
)

const webhookPathPrefix = "/api/v1/webhooks/"

// BuildProcessors registers every gateway that has credentials for the configured mode.
// Gateways without credentials are skipped so old payments on a configured gateway can
// still be verified after the active gateway changes.
func BuildProcessors(cfg config.Config, logger *zap.Logger) (*payments.Registry, error) {
	pc := cfg.Payments
	rest := func(component string) payments.RESTConfig {
		return payments.RESTConfig{
			Timeout:         pc.HTTPTimeout,
			Logger:          observability.EventLogger(logger, component),
			ReferencePrefix: pc.ReferencePrefix,
		}
	}

	var processors []payments.Processor
	if key := pc.PaystackSecretKey(); key != "" {
		p, err := payments.NewPaystackProcessor(payments.PaystackConfig{SecretKey: key, RESTConfig: rest("paystack")})
		if err != nil {
			return nil, fmt.Errorf("build paystack processor: %w", err)
		}
		processors = append(processors, p)
	}
	if key := pc.FlutterwaveSecretKey(); key != "" {
		p, err := payments.NewFlutterwaveProcessor(payments.FlutterwaveConfig{
			SecretKey:   key,
			WebhookHash: pc.FlutterwaveWebhookHash,
			RESTConfig:  rest("flutterwave"),
		})
		if err != nil {
			return nil, fmt.Errorf("build flutterwave processor: %w", err)
		}
		processors = append(processors, p)
	}
	if token := pc.BitPayToken(); token != "" {
		notifyURL := ""
		if base := strings.TrimSpace(cfg.Server.PublicBaseURL); base != "" {
			notifyURL = base + webhookPathPrefix + string(payments.ProviderBitPay)
		}
		p, err := payments.NewBitPayProcessor(payments.BitPayConfig{
			Token:           token,
			NotificationURL: notifyURL,
			Test:            !pc.Live(),
			RESTConfig:      rest("bitpay"),
		})
		if err != nil {
			return nil, fmt.Errorf("build bitpay processor: %w", err)
		}
		processors = append(processors, p)
	}
	if key := pc.StripeAPIKey(); key != "" {
		cancelURL := ""
		if storefront := strings.TrimSpace(cfg.Server.StorefrontURL); storefront != "" {
			cancelURL = storefront + "/cart"
		}
		p, err := payments.NewStripeProcessor(payments.StripeConfig{
			APIKey:          key,
			WebhookSecret:   pc.StripeWebhookSecret,
			CancelURL:       cancelURL,
			Logger:          observability.EventLogger(logger, "stripe"),
			ReferencePrefix: pc.ReferencePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe processor: %w", err)
		}
		processors = append(processors, p)
	}

	active, err := payments.ParseProvider(pc.ActiveGateway)
	if err != nil {
		return nil, err
	}
	return payments.NewRegistry(active, processors...)
}
