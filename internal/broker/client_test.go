package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack/tradegate/internal/config"
	"github.com/quantstack/tradegate/internal/sched"
)

// openScheduler builds a scheduler that never rate-gates, so client tests
// exercise only HTTP behavior.
func openScheduler() *sched.Scheduler {
	return sched.New(sched.Config{
		Global: sched.LimitPolicy{
			RequestsPerMinute: 100000,
			BurstLimit:        100000,
			RetryDelayBase:    time.Millisecond,
			MaxRetries:        1,
		},
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := openScheduler()
	t.Cleanup(s.Stop)
	return New(config.Broker{
		BaseURL:   srv.URL,
		KeyID:     "test-key",
		SecretKey: "test-secret",
		TimeoutMs: 5000,
	}, s)
}

func TestGetAccountSendsAuthHeaders(t *testing.T) {
	var gotKey, gotSecret string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("APCA-API-KEY-ID")
		gotSecret = r.Header.Get("APCA-API-SECRET-KEY")
		json.NewEncoder(w).Encode(Account{ID: "acct-1", Currency: "USD", Cash: 1000})
	}))

	a, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-1", a.ID)
	assert.Equal(t, 1000.0, a.Cash)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "test-secret", gotSecret)
}

func TestGetQuoteCachesPerSymbol(t *testing.T) {
	var calls int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(Quote{Symbol: "AAPL", Last: 182.40})
	}))

	q1, err := c.GetQuote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q1.Symbol)

	// Same symbol inside the TTL is served from cache.
	q2, err := c.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, q1.Last, q2.Last)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestGetQuoteRejectsEmptySymbol(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	_, err := c.GetQuote(context.Background(), "  ")
	assert.Error(t, err)
}

func TestPlaceOrderRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)
		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(Order{
			ID: "ord-1", Symbol: req.Symbol, Qty: req.Qty, Side: req.Side, Status: "accepted",
		})
	}))

	o, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "NVDA", Qty: 4, Side: "buy", Type: "market", TimeInForce: "day",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, "accepted", o.Status)
}

func TestCancelOrderUsesDelete(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.CancelOrder(context.Background(), "ord-9"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v2/orders/ord-9", gotPath)
}

func TestAPIErrorCarriesStatusAndRetryAfter(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"message": "too many requests"})
	}))

	_, err := c.ListOrders(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "want *APIError, got %T: %v", err, err)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode())
	hint, ok := apiErr.RetryAfterHint()
	assert.True(t, ok)
	assert.Equal(t, time.Second, hint)
	assert.Contains(t, apiErr.Error(), "too many requests")

	// Sustained 429s surface as a rate-limit rejection once retries run out.
	assert.True(t, errors.Is(err, sched.ErrRateLimitExceeded))
}

func TestAPIErrorPlainBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("forbidden"))
	}))

	_, err := c.ListPositions(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "forbidden", apiErr.Message)
	_, ok := apiErr.RetryAfterHint()
	assert.False(t, ok)
}
