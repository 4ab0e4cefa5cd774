package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantstack/tradegate/internal/config"
	"github.com/quantstack/tradegate/internal/sched"
)

// Client is the brokerage REST client. Every call is admitted through the
// scheduler; the client never talks to the provider directly.
type Client struct {
	baseURL    string
	keyID      string
	secretKey  string
	httpClient *http.Client
	sched      *sched.Scheduler
}

func New(cfg config.Broker, s *sched.Scheduler) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		sched: s,
	}
}

// GetAccount fetches the account snapshot. Cached briefly so dashboard
// polling doesn't burn the 60/min account quota.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	fut := c.sched.ScheduleCached(EndpointAccount, sched.PriorityNormal, "account", 0,
		func(ctx context.Context) (any, error) {
			var a Account
			if err := c.do(ctx, http.MethodGet, EndpointAccount, nil, &a); err != nil {
				return nil, err
			}
			return &a, nil
		})
	v, err := fut.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*Account), nil
}

// ListPositions fetches all open positions, cached briefly.
func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	fut := c.sched.ScheduleCached(EndpointPositions, sched.PriorityNormal, "positions", 0,
		func(ctx context.Context) (any, error) {
			var ps []Position
			if err := c.do(ctx, http.MethodGet, EndpointPositions, nil, &ps); err != nil {
				return nil, err
			}
			return ps, nil
		})
	v, err := fut.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]Position), nil
}

// GetQuote fetches the latest quote for symbol. Quotes are the chattiest
// read, so they run at low priority and dedupe per symbol via the cache.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("broker: empty symbol")
	}
	fut := c.sched.ScheduleCached(EndpointQuotes, sched.PriorityLow, "quote:"+symbol, 0,
		func(ctx context.Context) (any, error) {
			var q Quote
			if err := c.do(ctx, http.MethodGet, EndpointQuotes+"/"+symbol, nil, &q); err != nil {
				return nil, err
			}
			return &q, nil
		})
	v, err := fut.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*Quote), nil
}

// ListOrders fetches open orders. Never cached: order state must reflect
// mutations immediately.
func (c *Client) ListOrders(ctx context.Context) ([]Order, error) {
	fut := c.sched.Schedule(EndpointOrders, sched.PriorityNormal,
		func(ctx context.Context) (any, error) {
			var os []Order
			if err := c.do(ctx, http.MethodGet, EndpointOrders, nil, &os); err != nil {
				return nil, err
			}
			return os, nil
		})
	v, err := fut.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]Order), nil
}

// PlaceOrder submits an order at high priority so trading logic jumps the
// quote-polling backlog.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	fut := c.sched.Schedule(EndpointOrders, sched.PriorityHigh,
		func(ctx context.Context) (any, error) {
			var o Order
			if err := c.do(ctx, http.MethodPost, EndpointOrders, req, &o); err != nil {
				return nil, err
			}
			return &o, nil
		})
	v, err := fut.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*Order), nil
}

// CancelOrder cancels an open order at high priority.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	fut := c.sched.Schedule(EndpointOrders, sched.PriorityHigh,
		func(ctx context.Context) (any, error) {
			return nil, c.do(ctx, http.MethodDelete, EndpointOrders+"/"+orderID, nil, nil)
		})
	_, err := fut.Await(ctx)
	return err
}

// do performs one HTTP round trip. Non-2xx responses become *APIError with
// the status and any Retry-After header attached.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("broker: encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("broker: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.keyID != "" {
		req.Header.Set("APCA-API-KEY-ID", c.keyID)
		req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("broker: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var payload struct {
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	} else if len(raw) > 0 {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	// Retry-After is integer seconds per header semantics.
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
