package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newPaystackTestServer(t *testing.T, handler http.HandlerFunc) *PaystackProcessor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewPaystackProcessor(PaystackConfig{
		SecretKey:  "sk_test_123",
		RESTConfig: RESTConfig{BaseURL: srv.URL, HTTPClient: srv.Client(), ReferencePrefix: "KZR"},
	})
	if err != nil {
		t.Fatalf("NewPaystackProcessor: %v", err)
	}
	return p
}

func TestPaystackInitializeSendsKobo(t *testing.T) {
	var body map[string]any
	p := newPaystackTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Fatalf("unexpected authorization %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"KZR_1"}}`))
	})

	resp, err := p.InitializePayment(context.Background(), InitializeRequest{
		Reference: "KZR_1",
		Email:     "ada@example.com",
		Amount:    decimal.RequireFromString("4500.50"),
		Currency:  "ngn",
	})
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	if body["amount"].(float64) != 450050 {
		t.Fatalf("expected kobo amount 450050, got %v", body["amount"])
	}
	if body["currency"] != "NGN" {
		t.Fatalf("expected upper-case currency, got %v", body["currency"])
	}
	if resp.AuthorizationURL != "https://checkout.paystack.com/abc" || resp.AccessCode != "abc" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaystackInitializeGatewayError(t *testing.T) {
	p := newPaystackTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	})
	_, err := p.InitializePayment(context.Background(), InitializeRequest{Reference: "r", Amount: decimal.NewFromInt(1)})
	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if ge.StatusCode != http.StatusBadRequest || ge.Message != "Invalid key" {
		t.Fatalf("unexpected gateway error %+v", ge)
	}
}

func TestPaystackVerifyParsesMislabelledResponse(t *testing.T) {
	p := newPaystackTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"id":7,"status":"success","reference":"KZR_2","amount":100000,"currency":"NGN"}}`))
	})
	resp, err := p.VerifyPayment(context.Background(), VerifyRequest{Reference: "KZR_2"})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if resp.Status != StatusSuccess || !resp.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaystackVerifyMapsStatusAndAmount(t *testing.T) {
	p := newPaystackTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/KZR_1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"id":991,"status":"success","reference":"KZR_1","amount":450050,"currency":"NGN","paid_at":"2024-05-01T10:00:00.000Z"}}`))
	})
	resp, err := p.VerifyPayment(context.Background(), VerifyRequest{Reference: "KZR_1"})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", resp.Status)
	}
	if !resp.Amount.Equal(decimal.RequireFromString("4500.50")) {
		t.Fatalf("expected 4500.50, got %s", resp.Amount)
	}
	if resp.ProviderReference != "991" || resp.PaidAt == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaystackWebhookSignature(t *testing.T) {
	p, err := NewPaystackProcessor(PaystackConfig{SecretKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("NewPaystackProcessor: %v", err)
	}
	payload := []byte(`{"event":"charge.success","data":{"id":1,"reference":"KZR_1","amount":100000,"currency":"NGN"}}`)
	mac := hmac.New(sha512.New, []byte("sk_test_123"))
	mac.Write(payload)

	header := http.Header{}
	header.Set("X-Paystack-Signature", hex.EncodeToString(mac.Sum(nil)))
	if err := p.VerifyWebhookSignature(payload, header); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	header.Set("X-Paystack-Signature", "deadbeef")
	if err := p.VerifyWebhookSignature(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if err := p.VerifyWebhookSignature(payload, http.Header{}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}
}

func TestPaystackParseWebhookEvents(t *testing.T) {
	p, _ := NewPaystackProcessor(PaystackConfig{SecretKey: "sk"})

	charge, err := p.ParseWebhookEvent([]byte(`{"event":"charge.success","data":{"id":7,"reference":"KZR_1","amount":100000,"currency":"ngn"}}`))
	if err != nil {
		t.Fatalf("parse charge: %v", err)
	}
	if charge.Kind != EventKindPayment || charge.Payment == nil || !charge.Payment.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected charge event %+v", charge)
	}

	transfer, err := p.ParseWebhookEvent([]byte(`{"event":"transfer.reversed","data":{"reference":"TRF_1","transfer_code":"TRF_code","amount":5000,"currency":"NGN","reason":"refund"}}`))
	if err != nil {
		t.Fatalf("parse transfer: %v", err)
	}
	if transfer.Kind != EventKindTransfer || transfer.Transfer.Status != StatusFailed {
		t.Fatalf("unexpected transfer event %+v", transfer.Transfer)
	}

	if _, err := p.ParseWebhookEvent([]byte(`{"event":"subscription.create","data":{}}`)); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
	if _, err := p.ParseWebhookEvent([]byte(`not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
