package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	c := Default()

	if c.Scheduler.Global.RequestsPerMinute != 150 {
		t.Errorf("global rpm = %d, want 150", c.Scheduler.Global.RequestsPerMinute)
	}
	if c.Scheduler.Global.BurstLimit != 5 {
		t.Errorf("burst = %d, want 5", c.Scheduler.Global.BurstLimit)
	}
	if c.Scheduler.Global.RetryDelayBaseMs != 1000 {
		t.Errorf("retry base = %d, want 1000", c.Scheduler.Global.RetryDelayBaseMs)
	}
	if c.Scheduler.Global.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", c.Scheduler.Global.MaxRetries)
	}
	if c.Scheduler.DefaultCacheTTLMs != 5000 {
		t.Errorf("cache ttl = %d, want 5000", c.Scheduler.DefaultCacheTTLMs)
	}
	if c.Scheduler.InterRequestDelayMs != 100 {
		t.Errorf("inter-request delay = %d, want 100", c.Scheduler.InterRequestDelayMs)
	}

	want := map[string]int{
		"/v2/account":   60,
		"/v2/positions": 60,
		"/v2/orders":    120,
		"/v2/quotes":    180,
	}
	if len(c.Scheduler.Endpoints) != len(want) {
		t.Fatalf("got %d endpoint overrides, want %d", len(c.Scheduler.Endpoints), len(want))
	}
	for _, ep := range c.Scheduler.Endpoints {
		if rpm, ok := want[ep.Endpoint]; !ok || ep.Policy.RequestsPerMinute != rpm {
			t.Errorf("override %s = %d rpm, want %d", ep.Endpoint, ep.Policy.RequestsPerMinute, rpm)
		}
	}
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
scheduler:
  global:
    requests_per_minute: 30
  endpoints:
    - endpoint: /v2/quotes
      requests_per_minute: 90
      burst_limit: 2
broker:
  base_url: https://paper-api.example.com
  key_id: test-key
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Scheduler.Global.RequestsPerMinute != 30 {
		t.Errorf("global rpm = %d, want 30 from file", c.Scheduler.Global.RequestsPerMinute)
	}
	if c.Scheduler.Global.MaxRetries != 3 {
		t.Errorf("max retries = %d, want defaulted 3", c.Scheduler.Global.MaxRetries)
	}
	if len(c.Scheduler.Endpoints) != 1 {
		t.Fatalf("endpoints = %d, want the single configured override", len(c.Scheduler.Endpoints))
	}
	ep := c.Scheduler.Endpoints[0]
	if ep.Endpoint != "/v2/quotes" || ep.Policy.RequestsPerMinute != 90 || ep.Policy.BurstLimit != 2 {
		t.Errorf("override = %+v", ep)
	}
	if c.Broker.BaseURL != "https://paper-api.example.com" {
		t.Errorf("broker base url = %s", c.Broker.BaseURL)
	}
	if c.Broker.TimeoutMs != 10000 {
		t.Errorf("broker timeout = %d, want defaulted 10000", c.Broker.TimeoutMs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
