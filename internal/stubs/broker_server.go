package stubs

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quantstack/tradegate/internal/broker"
)

// BrokerServer is a stub brokerage API with its own server-side limiter.
// Callers that out-run it get real 429s with a Retry-After header, which is
// how the scheduler's throttle detection is exercised end to end.
type BrokerServer struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	throttleUntil time.Time
	orders        map[string]broker.Order
	requests      int64
	rejected      int64
}

// NewBrokerServer builds a stub enforcing rps sustained with the given
// burst, mirroring the live provider's published quota.
func NewBrokerServer(rps float64, burst int) *BrokerServer {
	if rps <= 0 {
		rps = 2.5
	}
	if burst <= 0 {
		burst = 5
	}
	return &BrokerServer{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		orders:  make(map[string]broker.Order),
	}
}

// Handler returns the stub's routes.
func (s *BrokerServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/throttle", s.handleThrottle)
	mux.HandleFunc("/v2/account", s.limited(s.handleAccount))
	mux.HandleFunc("/v2/positions", s.limited(s.handlePositions))
	mux.HandleFunc("/v2/quotes/", s.limited(s.handleQuote))
	mux.HandleFunc("/v2/orders", s.limited(s.handleOrders))
	mux.HandleFunc("/v2/orders/", s.limited(s.handleOrderByID))
	return mux
}

// limited rejects with 429 + Retry-After when the server-side quota is
// exhausted or an operator forced a throttle window.
func (s *BrokerServer) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		forced := time.Now().Before(s.throttleUntil)
		s.mu.Unlock()

		if forced || !s.limiter.Allow() {
			s.mu.Lock()
			s.rejected++
			s.mu.Unlock()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"message": "too many requests",
			})
			return
		}
		next(w, r)
	}
}

func (s *BrokerServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	requests, rejected := s.requests, s.rejected
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"requests": requests,
		"rejected": rejected,
	})
}

// handleThrottle forces rejection for the requested window. Used by drills
// to verify the scheduler backs off account-wide.
func (s *BrokerServer) handleThrottle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		DurationMs int `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DurationMs <= 0 {
		http.Error(w, "bad json: duration_ms required", http.StatusBadRequest)
		return
	}
	until := time.Now().Add(time.Duration(body.DurationMs) * time.Millisecond)
	s.mu.Lock()
	s.throttleUntil = until
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]any{"throttled_until": until.UTC().Format(time.RFC3339)})
}

func (s *BrokerServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, broker.Account{
		ID:          "stub-account",
		Currency:    "USD",
		Cash:        25000.00,
		Equity:      31250.40,
		BuyingPower: 50000.00,
	})
}

func (s *BrokerServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, []broker.Position{
		{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 182.40, MarketValue: 1850.00, UnrealizedPL: 26.00},
		{Symbol: "NVDA", Qty: 4, AvgEntryPrice: 812.10, MarketValue: 3301.20, UnrealizedPL: 52.80},
	})
}

func (s *BrokerServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/v2/quotes/"))
	if symbol == "" || strings.Contains(symbol, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown symbol"})
		return
	}
	last := priceFor(symbol)
	spread := last * 0.0004
	writeJSON(w, http.StatusOK, broker.Quote{
		Symbol:    symbol,
		Bid:       last - spread/2,
		Ask:       last + spread/2,
		Last:      last,
		Timestamp: time.Now().UTC(),
	})
}

func (s *BrokerServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		out := make([]broker.Order, 0, len(s.orders))
		for _, o := range s.orders {
			out = append(out, o)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req broker.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad json: " + err.Error()})
			return
		}
		if req.Symbol == "" || req.Qty <= 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "symbol and positive qty required"})
			return
		}
		order := broker.Order{
			ID:          uuid.NewString(),
			Symbol:      strings.ToUpper(req.Symbol),
			Qty:         req.Qty,
			Side:        req.Side,
			Type:        req.Type,
			LimitPrice:  req.LimitPrice,
			Status:      "accepted",
			SubmittedAt: time.Now().UTC(),
		}
		s.mu.Lock()
		s.orders[order.ID] = order
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, order)
	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

func (s *BrokerServer) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "DELETE only", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v2/orders/")
	s.mu.Lock()
	_, ok := s.orders[id]
	delete(s.orders, id)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "order not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// priceFor derives a stable per-symbol price so repeated quotes are
// comparable across requests.
func priceFor(symbol string) float64 {
	var h uint32
	for _, c := range symbol {
		h = h*31 + uint32(c)
	}
	return 20 + float64(h%98000)/100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
