package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/queue"
	"go.uber.org/zap"
)

const (
	DefaultWorkers         = 16
	DefaultRedeliveryDelay = time.Second
)

// Pool feeds jobs from a queue to a fixed number of concurrent processors.
type Pool struct {
	Queue   queue.Queue
	Worker  *Worker
	Workers int
	// RedeliveryDelay is how long a job whose processing failed waits before
	// it is fetched again.
	RedeliveryDelay time.Duration
	Log             *zap.Logger
}

func NewPool(q queue.Queue, w *Worker, workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{Queue: q, Worker: w, Workers: workers, RedeliveryDelay: DefaultRedeliveryDelay, Log: logger.OrNop(log)}
}

// Run blocks until ctx is cancelled or the queue is closed. Jobs already
// fetched run to completion before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	if p.Workers <= 0 {
		p.Workers = DefaultWorkers
	}
	log := logger.OrNop(p.Log)

	msgCh := make(chan queue.Message, p.Workers)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := p.Queue.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
					return
				}
				log.Warn("queue fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			msgCh <- m
		}
	}()

	// in-flight deliveries are not cut short by shutdown
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				p.processOne(work, log, m)
			}
		}()
	}

	log.Info("delivery pool started", zap.Int("workers", p.Workers))
	wg.Wait()
	log.Info("delivery pool stopped")
	return nil
}

func (p *Pool) processOne(ctx context.Context, log *zap.Logger, m queue.Message) {
	outcome, err := p.Worker.Process(ctx, m.Job)
	if err != nil {
		log.Error("delivery job failed, redelivering",
			zap.String("job_id", m.ID),
			zap.String("subscription_id", m.Job.SubscriptionID),
			zap.Int("attempt", m.Job.AttemptNumber),
			zap.Duration("delay", p.RedeliveryDelay),
			zap.Error(err),
		)
		// a failed nack leaves the job in flight; the queue redelivers it on restart
		if err := p.Queue.Nack(ctx, m, p.RedeliveryDelay); err != nil {
			log.Warn("queue nack failed", zap.String("job_id", m.ID), zap.Error(err))
		}
		return
	}
	if err := p.Queue.Ack(ctx, m); err != nil {
		log.Warn("queue ack failed", zap.String("job_id", m.ID), zap.String("outcome", string(outcome)), zap.Error(err))
	}
}
