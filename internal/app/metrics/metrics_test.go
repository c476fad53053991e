package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandler_StatusCapture(t *testing.T) {
	implicit := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No WriteHeader call: the implicit status is 200.
		_, _ = w.Write([]byte("ok"))
	}))
	explicit := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	before200 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/distributions", "200"))
	before409 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/distributions", "409"))

	rec := httptest.NewRecorder()
	implicit.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/distributions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("implicit status: got %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	explicit.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/distributions", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("explicit status: got %d, want 409", rec.Code)
	}

	after200 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/distributions", "200"))
	after409 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/distributions", "409"))
	if after200 != before200+1 {
		t.Fatalf("200 counter: got %v, want %v", after200, before200+1)
	}
	if after409 != before409+1 {
		t.Fatalf("409 counter: got %v, want %v", after409, before409+1)
	}
}

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/distributions", "/distributions"},
		{"/distributions/42", "/distributions/:sequence"},
		{"/recipients", "/recipients"},
		{"/recipients/SP", "/recipients/:recipient"},
		{"/recipients/SP/balance", "/recipients/:recipient/balance"},
		{"/recipients/SP/withdrawals", "/recipients/:recipient/withdrawals"},
		{"/allocator/step", "/allocator/step"},
	}
	for _, tc := range cases {
		if got := canonicalPath(tc.in); got != tc.want {
			t.Fatalf("canonicalPath(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
