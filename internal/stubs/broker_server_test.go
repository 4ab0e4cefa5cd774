package stubs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack/tradegate/internal/broker"
)

func TestAccountFixture(t *testing.T) {
	srv := httptest.NewServer(NewBrokerServer(1000, 1000).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v2/account")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var a broker.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	assert.Equal(t, "stub-account", a.ID)
	assert.Equal(t, "USD", a.Currency)
}

func TestQuoteIsStablePerSymbol(t *testing.T) {
	srv := httptest.NewServer(NewBrokerServer(1000, 1000).Handler())
	defer srv.Close()

	fetch := func() broker.Quote {
		resp, err := http.Get(srv.URL + "/v2/quotes/nvda")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var q broker.Quote
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
		return q
	}

	q1, q2 := fetch(), fetch()
	assert.Equal(t, "NVDA", q1.Symbol)
	assert.Equal(t, q1.Last, q2.Last)
	assert.Less(t, q1.Bid, q1.Ask)
}

func TestBurstExhaustionReturns429(t *testing.T) {
	// Tiny refill rate so the burst budget is the whole budget.
	srv := httptest.NewServer(NewBrokerServer(0.001, 2).Handler())
	defer srv.Close()

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/v2/account")
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			assert.Equal(t, "1", resp.Header.Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestForcedThrottleRejectsEverything(t *testing.T) {
	srv := httptest.NewServer(NewBrokerServer(1000, 1000).Handler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]int{"duration_ms": 60000})
	resp, err := http.Post(srv.URL+"/throttle", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v2/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var payload struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "too many requests", payload.Message)
}

func TestOrderLifecycle(t *testing.T) {
	srv := httptest.NewServer(NewBrokerServer(1000, 1000).Handler())
	defer srv.Close()

	place, _ := json.Marshal(broker.OrderRequest{
		Symbol: "aapl", Qty: 10, Side: "buy", Type: "market", TimeInForce: "day",
	})
	resp, err := http.Post(srv.URL+"/v2/orders", "application/json", bytes.NewReader(place))
	require.NoError(t, err)
	var order broker.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&order))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, "accepted", order.Status)
	assert.NotEmpty(t, order.ID)

	resp, err = http.Get(srv.URL + "/v2/orders")
	require.NoError(t, err)
	var open []broker.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&open))
	resp.Body.Close()
	require.Len(t, open, 1)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v2/orders/"+order.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Cancel of an unknown order is a 404.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/v2/orders/"+order.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderValidation(t *testing.T) {
	srv := httptest.NewServer(NewBrokerServer(1000, 1000).Handler())
	defer srv.Close()

	place, _ := json.Marshal(broker.OrderRequest{Symbol: "", Qty: 0})
	resp, err := http.Post(srv.URL+"/v2/orders", "application/json", bytes.NewReader(place))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
