package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Queue.Driver != QueueRedis {
		t.Errorf("queue driver = %q", cfg.Queue.Driver)
	}
	d := cfg.Delivery
	if d.MaxRedirects != 3 || d.MaxResponseBody != 4096 || d.CircuitThreshold != 10 {
		t.Errorf("delivery = %+v", d)
	}
	if d.DefaultTimeoutMs != 5000 || d.DefaultMaxRetries != 3 || d.UserAgent != "Hookrelay-Webhook/1.0" {
		t.Errorf("delivery = %+v", d)
	}
	if d.Backoff.Base != time.Second || d.Backoff.Max != time.Hour || d.Backoff.Jitter != 0.2 {
		t.Errorf("backoff = %+v", d.Backoff)
	}
	if cfg.ClickHouse.DSN != "" {
		t.Errorf("clickhouse should be disabled by default")
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.RetryTopic == "" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "queue:\n  driver: memory\ndelivery:\n  worker_count: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HOOKRELAY_HTTP_ADDR", ":9999")
	t.Setenv("HOOKRELAY_DELIVERY_CIRCUIT_THRESHOLD", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Driver != QueueMemory || cfg.Delivery.WorkerCount != 4 {
		t.Errorf("file overrides not applied: %+v %+v", cfg.Queue, cfg.Delivery)
	}
	if cfg.HTTP.Addr != ":9999" || cfg.Delivery.CircuitThreshold != 5 {
		t.Errorf("env overrides not applied: %q %d", cfg.HTTP.Addr, cfg.Delivery.CircuitThreshold)
	}
	if cfg.Delivery.MaxRedirects != 3 {
		t.Errorf("defaults lost on merge: %+v", cfg.Delivery)
	}
}
