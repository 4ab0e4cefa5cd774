package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/quantstack/tradegate/internal/broker"
	"github.com/quantstack/tradegate/internal/config"
	"github.com/quantstack/tradegate/internal/observ"
	"github.com/quantstack/tradegate/internal/sched"
	"github.com/quantstack/tradegate/internal/stubs"
)

func main() {
	configPath := flag.String("config", "", "optional yaml config path")
	metricsAddr := flag.String("metrics", ":8095", "metrics/stats listen address")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	fmt.Println("tradegate scheduler demo")
	fmt.Println("========================")

	// In-process stub broker so the demo is self-contained. Tight limits
	// make the scheduler's waits and 429 handling visible.
	stub := stubs.NewBrokerServer(cfg.Stub.RequestsPerSecond, cfg.Stub.Burst)
	upstream := httptest.NewServer(stub.Handler())
	defer upstream.Close()
	cfg.Broker.BaseURL = upstream.URL
	fmt.Printf("stub broker: %s (%.1f req/s, burst %d)\n",
		upstream.URL, cfg.Stub.RequestsPerSecond, cfg.Stub.Burst)

	scheduler := sched.New(schedulerConfig(cfg.Scheduler))
	defer scheduler.Stop()
	client := broker.New(cfg.Broker, scheduler)

	// Introspection surface for dashboards.
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(scheduler.Stats())
	})
	go func() {
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()
	fmt.Printf("stats: http://localhost%s/stats\n\n", *metricsAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	account, err := client.GetAccount(ctx)
	if err != nil {
		log.Fatalf("get account: %v", err)
	}
	fmt.Printf("account %s: $%.2f cash, $%.2f buying power\n",
		account.ID, account.Cash, account.BuyingPower)

	positions, err := client.ListPositions(ctx)
	if err != nil {
		log.Fatalf("list positions: %v", err)
	}
	for _, p := range positions {
		fmt.Printf("position %-5s qty %.0f  avg $%.2f  P/L $%.2f\n",
			p.Symbol, p.Qty, p.AvgEntryPrice, p.UnrealizedPL)
	}

	// Quote burst: more requests than the stub's burst allows, so some
	// hit the limiter's wait and the repeated symbols hit the cache.
	symbols := []string{"AAPL", "NVDA", "SPY", "AAPL", "TSLA", "SPY", "AMD", "AAPL"}
	var wg sync.WaitGroup
	start := time.Now()
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			q, err := client.GetQuote(ctx, symbol)
			if err != nil {
				fmt.Printf("quote %-5s error: %v\n", symbol, err)
				return
			}
			fmt.Printf("quote %-5s bid %.2f ask %.2f (%.1fs elapsed)\n",
				q.Symbol, q.Bid, q.Ask, time.Since(start).Seconds())
		}(symbol)
	}
	wg.Wait()

	order, err := client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: "AAPL", Qty: 1, Side: "buy", Type: "market", TimeInForce: "day",
	})
	if err != nil {
		log.Fatalf("place order: %v", err)
	}
	fmt.Printf("order %s %s %s x%.0f -> %s\n",
		order.ID, order.Side, order.Symbol, order.Qty, order.Status)

	stats := scheduler.Stats()
	fmt.Printf("\nlimiter: queue=%d draining=%v throttled=%v global60s=%d cache=%d\n",
		stats.QueueSize, stats.Draining, stats.Throttled,
		stats.RecentGlobalRequests, stats.CacheSize)
	for _, ep := range stats.Endpoints {
		fmt.Printf("  %-14s 60s=%-3d 5s=%d\n", ep.Endpoint, ep.RecentRequests, ep.BurstRequests)
	}
}

func schedulerConfig(c config.Scheduler) sched.Config {
	overrides := make(map[string]sched.LimitPolicy, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		overrides[ep.Endpoint] = sched.LimitPolicy{
			RequestsPerMinute: ep.Policy.RequestsPerMinute,
			BurstLimit:        ep.Policy.BurstLimit,
			RetryDelayBase:    time.Duration(ep.Policy.RetryDelayBaseMs) * time.Millisecond,
			MaxRetries:        ep.Policy.MaxRetries,
		}
	}
	return sched.Config{
		Global: sched.LimitPolicy{
			RequestsPerMinute: c.Global.RequestsPerMinute,
			BurstLimit:        c.Global.BurstLimit,
			RetryDelayBase:    time.Duration(c.Global.RetryDelayBaseMs) * time.Millisecond,
			MaxRetries:        c.Global.MaxRetries,
		},
		Endpoints:          overrides,
		DefaultCacheTTL:    time.Duration(c.DefaultCacheTTLMs) * time.Millisecond,
		InterRequestDelay:  time.Duration(c.InterRequestDelayMs) * time.Millisecond,
		CacheSweepInterval: time.Duration(c.CacheSweepIntervalMs) * time.Millisecond,
	}
}
