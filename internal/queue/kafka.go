package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmehdipour/hookrelay/internal/kafka"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/util"
	"go.uber.org/zap"
)

const dueAtHeader = "hookrelay-due-at"

// Kafka publishes immediate jobs to Topic and delayed jobs to RetryTopic
// stamped with their due time. The retry consumer holds each message until it
// is due; a partition is consumed in order, so a long delay holds back the
// shorter ones behind it on the same partition.
//
// Offsets are committed only past messages that were acknowledged or nacked,
// so a job still in flight when the process dies is read again on restart.
// Nack republishes the job to RetryTopic before releasing its offset.
type Kafka struct {
	producer     *kafka.Producer
	main         *kafka.Consumer
	retry        *kafka.Consumer
	mainOffsets  *offsetTracker
	retryOffsets *offsetTracker
	topic      string
	retryTopic string
	log        *zap.Logger

	out    chan Message
	start  sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type KafkaConfig struct {
	Brokers        []string
	Topic          string
	RetryTopic     string
	GroupID        string
	MinBytes       int
	MaxBytes       int
	CommitInterval time.Duration
}

func NewKafka(c KafkaConfig, log *zap.Logger) *Kafka {
	if c.RetryTopic == "" {
		c.RetryTopic = c.Topic + ".retry"
	}
	consumer := func(topic, group string) *kafka.Consumer {
		return kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        c.Brokers,
			Topic:          topic,
			GroupID:        group,
			MinBytes:       c.MinBytes,
			MaxBytes:       c.MaxBytes,
			CommitInterval: c.CommitInterval,
			Log:            log,
		})
	}
	return &Kafka{
		producer:     kafka.NewProducer(kafka.ProducerConfig{Brokers: c.Brokers, Log: log}),
		main:         consumer(c.Topic, c.GroupID),
		retry:        consumer(c.RetryTopic, c.GroupID+"-retry"),
		mainOffsets:  newOffsetTracker(),
		retryOffsets: newOffsetTracker(),
		topic:        c.Topic,
		retryTopic:   c.RetryTopic,
		log:          logger.OrNop(log),
		out:          make(chan Message),
	}
}

var _ Queue = (*Kafka)(nil)

func (q *Kafka) Enqueue(ctx context.Context, job model.DeliveryJob, delay time.Duration) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	id := util.New()
	raw, err := encode(id, job)
	if err != nil {
		return err
	}
	return q.producer.Publish(ctx, q.message(job.SubscriptionID, raw, delay))
}

func (q *Kafka) message(key, raw string, delay time.Duration) kafka.Message {
	msg := kafka.Message{
		Topic: q.topic,
		Key:   []byte(key),
		Value: []byte(raw),
	}
	if delay > 0 {
		msg.Topic = q.retryTopic
		msg.Headers = []kafka.Header{{
			Key:   dueAtHeader,
			Value: []byte(strconv.FormatInt(time.Now().Add(delay).UnixMilli(), 10)),
		}}
	}
	return msg
}

func (q *Kafka) Fetch(ctx context.Context) (Message, error) {
	q.start.Do(q.run)
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m, ok := <-q.out:
		if !ok {
			return Message{}, ErrClosed
		}
		return m, nil
	}
}

func (q *Kafka) run() {
	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(2)
	go q.pump(ctx, q.main, q.mainOffsets, false)
	go q.pump(ctx, q.retry, q.retryOffsets, true)
	go func() {
		q.wg.Wait()
		close(q.out)
	}()
}

// pump forwards fetched messages to Fetch callers, waiting for the due time
// first when delayed is set.
func (q *Kafka) pump(ctx context.Context, c *kafka.Consumer, offsets *offsetTracker, delayed bool) {
	defer q.wg.Done()
	for {
		km, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("kafka fetch failed", zap.String("topic", c.Topic()), zap.Error(err))
			if !sleep(ctx, 200*time.Millisecond) {
				return
			}
			continue
		}

		offsets.fetched(km.Partition, km.Offset)
		src := kafkaSource{consumer: c, offsets: offsets, msg: km}

		m, err := decode(string(km.Value))
		if err != nil {
			q.log.Error("dropping undecodable job", zap.String("topic", c.Topic()), zap.Error(err))
			if err := src.release(ctx); err != nil {
				q.log.Warn("kafka commit failed", zap.String("topic", c.Topic()), zap.Error(err))
			}
			continue
		}
		m.source = src

		if delayed {
			if wait := time.Until(dueAt(km)); wait > 0 && !sleep(ctx, wait) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case q.out <- m:
		}
	}
}

type kafkaSource struct {
	consumer *kafka.Consumer
	offsets  *offsetTracker
	msg      kafka.Message
}

// release marks the message finished and commits the partition as far as
// the finished prefix reaches.
func (s kafkaSource) release(ctx context.Context) error {
	return s.offsets.finish(s.msg.Partition, s.msg.Offset, func(offset int64) error {
		return s.consumer.Commit(ctx, kafka.Message{Topic: s.msg.Topic, Partition: s.msg.Partition, Offset: offset})
	})
}

var errForeignMessage = errors.New("kafka: message was not fetched from this queue")

func (q *Kafka) Ack(ctx context.Context, m Message) error {
	src, ok := m.source.(kafkaSource)
	if !ok {
		return errForeignMessage
	}
	return src.release(ctx)
}

// Nack republishes the job to the retry topic, then releases the original
// offset. If the publish fails the offset stays held, so the job is read
// again after a restart.
func (q *Kafka) Nack(ctx context.Context, m Message, delay time.Duration) error {
	src, ok := m.source.(kafkaSource)
	if !ok {
		return errForeignMessage
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	if err := q.producer.Publish(ctx, q.message(m.Job.SubscriptionID, m.raw, delay)); err != nil {
		return fmt.Errorf("republish job %s: %w", m.ID, err)
	}
	return src.release(ctx)
}

func (q *Kafka) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	// never started: close out so Fetch reports ErrClosed
	q.start.Do(func() { close(q.out) })

	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
		q.wg.Wait()
	}
	return errors.Join(q.main.Close(), q.retry.Close(), q.producer.Close())
}

func dueAt(m kafka.Message) time.Time {
	for _, h := range m.Headers {
		if h.Key != dueAtHeader {
			continue
		}
		ms, err := strconv.ParseInt(string(h.Value), 10, 64)
		if err != nil {
			break
		}
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
