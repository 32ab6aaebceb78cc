package app

import (
	"testing"

	"github.com/jmehdipour/hookrelay/internal/config"
	"github.com/jmehdipour/hookrelay/internal/queue"
)

func TestNewQueue(t *testing.T) {
	base, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	t.Run("memory", func(t *testing.T) {
		cfg := base
		cfg.Queue.Driver = config.QueueMemory
		q, err := NewQueue(cfg, nil, nil)
		if err != nil {
			t.Fatalf("new queue: %v", err)
		}
		defer q.Close()
		if _, ok := q.(*queue.Memory); !ok {
			t.Fatalf("queue = %T", q)
		}
	})

	t.Run("kafka", func(t *testing.T) {
		cfg := base
		cfg.Queue.Driver = config.QueueKafka
		q, err := NewQueue(cfg, nil, nil)
		if err != nil {
			t.Fatalf("new queue: %v", err)
		}
		if _, ok := q.(*queue.Kafka); !ok {
			t.Fatalf("queue = %T", q)
		}
		_ = q.Close()
	})

	bad := map[string]func(*config.Config){
		"redis without client":  func(c *config.Config) { c.Queue.Driver = config.QueueRedis },
		"kafka without brokers": func(c *config.Config) { c.Queue.Driver = config.QueueKafka; c.Kafka.Brokers = nil },
		"unknown driver":        func(c *config.Config) { c.Queue.Driver = "sqs" },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if _, err := NewQueue(cfg, nil, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
