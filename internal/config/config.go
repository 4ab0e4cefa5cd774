package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type LimitPolicy struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BurstLimit        int `yaml:"burst_limit"`
	RetryDelayBaseMs  int `yaml:"retry_delay_base_ms"`
	MaxRetries        int `yaml:"max_retries"`
}

type EndpointOverride struct {
	Endpoint string      `yaml:"endpoint"`
	Policy   LimitPolicy `yaml:",inline"`
}

type Scheduler struct {
	Global               LimitPolicy        `yaml:"global"`
	Endpoints            []EndpointOverride `yaml:"endpoints"`
	DefaultCacheTTLMs    int                `yaml:"default_cache_ttl_ms"`
	InterRequestDelayMs  int                `yaml:"inter_request_delay_ms"`
	CacheSweepIntervalMs int                `yaml:"cache_sweep_interval_ms"`
}

type Broker struct {
	BaseURL   string `yaml:"base_url"`
	KeyID     string `yaml:"key_id"`
	SecretKey string `yaml:"secret_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Stub struct {
	Addr              string  `yaml:"addr"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Root struct {
	Scheduler Scheduler `yaml:"scheduler"`
	Broker    Broker    `yaml:"broker"`
	Stub      Stub      `yaml:"stub"`
}

// Default returns the policy observed against the live provider: 150/min
// globally with a 5-per-5s burst cap, narrower account/position reads and
// wider quote reads.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Scheduler.Global.RequestsPerMinute == 0 {
		c.Scheduler.Global.RequestsPerMinute = 150
	}
	if c.Scheduler.Global.BurstLimit == 0 {
		c.Scheduler.Global.BurstLimit = 5
	}
	if c.Scheduler.Global.RetryDelayBaseMs == 0 {
		c.Scheduler.Global.RetryDelayBaseMs = 1000
	}
	if c.Scheduler.Global.MaxRetries == 0 {
		c.Scheduler.Global.MaxRetries = 3
	}
	if c.Scheduler.DefaultCacheTTLMs == 0 {
		c.Scheduler.DefaultCacheTTLMs = 5000
	}
	if c.Scheduler.InterRequestDelayMs == 0 {
		c.Scheduler.InterRequestDelayMs = 100
	}
	if c.Scheduler.CacheSweepIntervalMs == 0 {
		c.Scheduler.CacheSweepIntervalMs = 60000
	}
	if len(c.Scheduler.Endpoints) == 0 {
		c.Scheduler.Endpoints = []EndpointOverride{
			{Endpoint: "/v2/account", Policy: LimitPolicy{RequestsPerMinute: 60}},
			{Endpoint: "/v2/positions", Policy: LimitPolicy{RequestsPerMinute: 60}},
			{Endpoint: "/v2/orders", Policy: LimitPolicy{RequestsPerMinute: 120}},
			{Endpoint: "/v2/quotes", Policy: LimitPolicy{RequestsPerMinute: 180}},
		}
	}

	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "http://localhost:8090"
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 10000
	}

	if c.Stub.Addr == "" {
		c.Stub.Addr = ":8090"
	}
	if c.Stub.RequestsPerSecond == 0 {
		c.Stub.RequestsPerSecond = 2.5 // 150/min
	}
	if c.Stub.Burst == 0 {
		c.Stub.Burst = 5
	}
}
