package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmehdipour/hookrelay/internal/filter"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/metrics"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/queue"
	"go.uber.org/zap"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

// SubscriptionFinder is the registry query the dispatcher depends on.
type SubscriptionFinder interface {
	FindActiveForEvent(ctx context.Context, tenantID, event string) ([]model.Subscription, error)
}

// Dispatcher fans a business event out into one delivery job per matching
// subscription. It never waits for a delivery.
type Dispatcher struct {
	subs   SubscriptionFinder
	filter *filter.Evaluator
	queue  queue.Queue
	log    *zap.Logger
}

func NewDispatcher(subs SubscriptionFinder, eval *filter.Evaluator, q queue.Queue, log *zap.Logger) *Dispatcher {
	if eval == nil {
		eval = filter.New()
	}
	return &Dispatcher{subs: subs, filter: eval, queue: q, log: logger.OrNop(log)}
}

// Trigger enqueues a first attempt for every active subscription of tenantID
// that listens to event and whose filters match payload. It returns the number
// of jobs enqueued; zero matches is not an error. An enqueue failure for one
// subscription does not stop the others.
func (d *Dispatcher) Trigger(ctx context.Context, tenantID, event string, payload model.Payload) (int, error) {
	tenantID, event = strings.TrimSpace(tenantID), strings.TrimSpace(event)
	if tenantID == "" || event == "" {
		return 0, fmt.Errorf("%w: tenant id and event are required", ErrInvalidTrigger)
	}
	if payload == nil {
		payload = model.Payload{}
	}

	subs, err := d.subs.FindActiveForEvent(ctx, tenantID, event)
	if err != nil {
		return 0, fmt.Errorf("find subscriptions: %w", err)
	}

	var (
		enqueued int
		errs     []error
	)
	for i := range subs {
		sub := &subs[i]
		if !d.filter.Matches(sub, event, payload) {
			d.log.Debug("subscription filtered out",
				zap.String("subscription_id", sub.ID), zap.String("event", event))
			continue
		}

		job := model.DeliveryJob{
			SubscriptionID: sub.ID,
			TenantID:       tenantID,
			Event:          event,
			Payload:        payload,
			AttemptNumber:  1,
		}
		if err := d.queue.Enqueue(ctx, job, 0); err != nil {
			d.log.Error("enqueue delivery failed",
				zap.String("subscription_id", sub.ID),
				zap.String("tenant_id", tenantID),
				zap.String("event", event),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", sub.ID, err))
			continue
		}
		metrics.JobsEnqueued.WithLabelValues(metrics.KindInitial).Inc()
		enqueued++
	}

	d.log.Debug("event dispatched",
		zap.String("tenant_id", tenantID),
		zap.String("event", event),
		zap.Int("candidates", len(subs)),
		zap.Int("enqueued", enqueued),
	)
	return enqueued, errors.Join(errs...)
}
