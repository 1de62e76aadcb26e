package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestShippingHandlersQuote(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/shipping", NewShippingHandlers().Routes)

	cases := []struct {
		name   string
		query  string
		status int
		cost   string
		zone   int
	}{
		{"domestic default", "country=ng", http.StatusOK, "3000.00", 1},
		{"africa express", "country=GH&method=EXPRESS&weight_grams=1200", http.StatusOK, "12000.00", 2},
		{"rest of world", "country=US&method=standard", http.StatusOK, "20000.00", 3},
		{"missing country", "method=standard", http.StatusBadRequest, "", 0},
		{"unknown method", "country=NG&method=overnight", http.StatusBadRequest, "", 0},
		{"bad weight", "country=NG&weight_grams=-3", http.StatusBadRequest, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/shipping/quote?"+tc.query, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if tc.status != http.StatusOK {
				return
			}
			var resp shippingQuoteResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Cost != tc.cost || resp.Zone != tc.zone || resp.Currency != "NGN" {
				t.Fatalf("unexpected quote %+v", resp)
			}
		})
	}
}
