package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/houseofkezura/backend-sub000/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected decimal span id to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" || sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span context %s/%s", sc.TraceID(), sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote parent")
	}

	if _, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/00f067aa0ba902b7"); !ok {
		t.Fatalf("expected hex span id to parse")
	}
	for _, bad := range []string{"", "nope", "xyz/1", "105445aa7843bc8bf206b12000100000/0;o=1"} {
		if _, ok := parseCloudTrace(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestCloudTraceValueUsesDecimalSpan(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/123456789;o=0")
	if !ok {
		t.Fatalf("parse failed")
	}
	if got := cloudTraceValue(sc); got != "105445aa7843bc8bf206b12000100000/123456789;o=0" {
		t.Fatalf("unexpected header %s", got)
	}
}

func TestRequestLoggerMiddlewareLogsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(zap.New(core)))
	r.Use(RequestLoggerMiddleware())
	r.Get("/api/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("handler ran")
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_9?token=secret", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected handler and access entries, got %d", len(entries))
	}
	access := entries[1]
	if access.Level != zapcore.WarnLevel || access.Message != "request completed" {
		t.Fatalf("unexpected access entry %+v", access.Entry)
	}
	fields := access.ContextMap()
	if fields["route"] != "/api/v1/orders/{orderID}" || fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["remote_ip"] != "203.0.113.9" {
		t.Fatalf("expected remote ip, got %v", fields["remote_ip"])
	}
	if url, _ := fields["url"].(string); strings.Contains(url, "secret") {
		t.Fatalf("expected token redacted, got %s", url)
	}
	if entries[0].ContextMap()["method"] != http.MethodGet {
		t.Fatalf("expected handler logs to carry request fields, got %v", entries[0].ContextMap())
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}
