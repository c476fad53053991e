package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	app "github.com/referralpay/commission_engine/internal/app"
	allocatorsvc "github.com/referralpay/commission_engine/internal/app/services/allocator"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Options{
		AllocatorOptions: []allocatorsvc.Option{allocatorsvc.WithSeed(1)},
	}, nil)
	require.NoError(t, err)

	server := httptest.NewServer(NewHandler(application))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHandler_DistributeAndQuery(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/distributions", map[string]interface{}{
		"volume":     10000,
		"recipients": []string{"SP", "U1", "U2", "U3", "U4", "Reserve"},
		"weights":    []float64{0.30, 0.20, 0.15, 0.10, 0.05, 0.20},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var dist struct {
		Record struct {
			Sequence  uint64
			Volume    int64
			Remainder int64
		}
		Credits []struct {
			Recipient string
			Amount    int64
		}
	}
	decode(t, resp, &dist)
	require.Equal(t, uint64(1), dist.Record.Sequence)
	require.Len(t, dist.Credits, 6)
	require.Equal(t, int64(3000), dist.Credits[0].Amount)
	require.Equal(t, int64(0), dist.Record.Remainder)

	resp, err := http.Get(server.URL + "/recipients/SP/balance")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var balance struct {
		Recipient string `json:"recipient"`
		Balance   int64  `json:"balance"`
	}
	decode(t, resp, &balance)
	require.Equal(t, int64(3000), balance.Balance)

	resp, err = http.Get(server.URL + "/distributions/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/distributions/42")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_DistributeInvalidInput(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/distributions", map[string]interface{}{
		"volume":     -5,
		"recipients": []string{"SP"},
		"weights":    []float64{1},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/distributions", map[string]interface{}{
		"volume":     100,
		"recipients": []string{"SP", "U1"},
		"weights":    []float64{0.9, 0.3},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_DistributeWithAllocatorWeights(t *testing.T) {
	server := newTestServer(t)

	// No weights supplied: the allocator's six-slot vector applies.
	resp := postJSON(t, server.URL+"/distributions", map[string]interface{}{
		"volume":     10000,
		"recipients": []string{"SP", "U1", "U2", "U3", "U4", "Reserve"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var dist struct {
		Credits []struct{ Amount int64 }
	}
	decode(t, resp, &dist)

	var total int64
	for _, credit := range dist.Credits {
		total += credit.Amount
	}
	require.Equal(t, int64(10000), total)
}

func TestHandler_WithdrawLifecycle(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/distributions", map[string]interface{}{
		"volume":     10000,
		"recipients": []string{"SP", "U1", "U2", "U3", "U4", "Reserve"},
		"weights":    []float64{0.30, 0.20, 0.15, 0.10, 0.05, 0.20},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/recipients/SP/withdrawals", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payout struct {
		Amount int64
	}
	decode(t, resp, &payout)
	require.Equal(t, int64(3000), payout.Amount)

	// Exhausted balance: a normal conflict, not a server error.
	resp = postJSON(t, server.URL+"/recipients/SP/withdrawals", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/recipients/SP/withdrawals")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payouts []struct{ Amount int64 }
	decode(t, resp, &payouts)
	require.Len(t, payouts, 1)
}

func TestHandler_Allocator(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/allocator/weights")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var current struct {
		Weights []float64 `json:"weights"`
		Reward  float64   `json:"reward"`
	}
	decode(t, resp, &current)
	require.Len(t, current.Weights, 6)

	resp = postJSON(t, server.URL+"/allocator/step", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var step struct {
		Weights []float64
		Reward  float64
	}
	decode(t, resp, &step)

	var sum float64
	for _, w := range step.Weights {
		sum += w
	}
	require.InDelta(t, 1.0, sum, 1e-9)

	resp = postJSON(t, server.URL+"/allocator/run", map[string]int{"episodes": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []struct{ Reward float64 }
	decode(t, resp, &results)
	require.Len(t, results, 5)

	resp = postJSON(t, server.URL+"/allocator/run", map[string]int{"episodes": 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_AllocatorRunSurfacesError(t *testing.T) {
	application, err := app.New(app.Stores{}, app.Options{
		AllocatorOptions: []allocatorsvc.Option{allocatorsvc.WithSeed(1)},
	}, nil)
	require.NoError(t, err)
	handler := NewHandler(application)

	// A cancelled request context aborts the run; the response must carry the
	// error, never a silent success.
	body, err := json.Marshal(map[string]int{"episodes": 5})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/allocator/run", bytes.NewReader(body))
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.True(t, rec.Code == http.StatusBadRequest || rec.Code == http.StatusInternalServerError,
		"aborted run returned %d", rec.Code)

	var payload struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.NotEmpty(t, payload.Error)
}

func TestHandler_MethodsAndHealth(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/distributions", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/allocator/unknown")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2, nil)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		} else {
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
	require.LessOrEqual(t, allowed, 3)
	require.GreaterOrEqual(t, allowed, 2)
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://dashboard.example.com"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/distributions", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/distributions", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
