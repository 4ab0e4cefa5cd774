package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/quantstack/tradegate/internal/config"
	"github.com/quantstack/tradegate/internal/stubs"
)

func main() {
	configPath := flag.String("config", "", "optional yaml config path")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Stub.Addr = *addr
	}

	srv := stubs.NewBrokerServer(cfg.Stub.RequestsPerSecond, cfg.Stub.Burst)
	log.Printf("stub broker listening on %s (%.1f req/s, burst %d)",
		cfg.Stub.Addr, cfg.Stub.RequestsPerSecond, cfg.Stub.Burst)
	if err := http.ListenAndServe(cfg.Stub.Addr, srv.Handler()); err != nil {
		log.Fatalf("stub broker: %v", err)
	}
}
