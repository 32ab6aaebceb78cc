// Package kafka wraps segmentio/kafka-go for the delivery job topics.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type (
	Message = kafka.Message
	Header  = kafka.Header
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // default 1s
	MaxWait        time.Duration // default 50ms
	// Log receives reader errors; nil discards them.
	Log *zap.Logger
}

// Consumer reads one topic as a member of a consumer group. A new group
// starts from the oldest retained job so nothing enqueued before the first
// worker came up is skipped.
type Consumer struct {
	r     *kafka.Reader
	topic string
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20
	}
	ci := c.CommitInterval
	if ci <= 0 {
		ci = time.Second
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}
	log := logger.OrNop(c.Log).With(zap.String("topic", c.Topic), zap.String("group_id", c.GroupID))

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: ci,
		MaxWait:        mw,
		StartOffset:    kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	})

	return &Consumer{r: r, topic: c.Topic}
}

func (c *Consumer) Topic() string { return c.topic }

// Fetch returns the next message without committing it.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

// Commit marks m, and every earlier message of its partition, as consumed.
func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
