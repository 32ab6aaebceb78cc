package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration // default 10ms
	Log          *zap.Logger
}

// Producer writes to any topic; the topic is chosen per message.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	log := logger.OrNop(c.Log)
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           bt,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}}
}

func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }
