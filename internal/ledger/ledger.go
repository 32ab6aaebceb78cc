// Package ledger records delivery attempts and rolls their outcomes into the
// owning subscription's health, tripping the circuit breaker when needed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/metrics"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/repository"
	"github.com/jmehdipour/hookrelay/internal/util"
	"go.uber.org/zap"
)

// Health is the subscription state right after an attempt outcome was applied.
type Health struct {
	Status              model.SubscriptionStatus
	ConsecutiveFailures int
	// Tripped is set only on the write that disabled the subscription.
	Tripped bool
	// Open means no further automatic delivery may be attempted.
	Open bool
}

type Ledger struct {
	attempts repository.AttemptsRepository
	history  repository.AttemptHistory
	breaker  Breaker
	log      *zap.Logger
	now      func() time.Time
}

// New builds a Ledger. history may be nil, in which case attempt history is
// read from the attempts repository.
func New(attempts repository.AttemptsRepository, history repository.AttemptHistory, breaker Breaker, log *zap.Logger) *Ledger {
	if history == nil {
		history = attempts
	}
	if breaker.threshold <= 0 {
		breaker = NewBreaker(DefaultThreshold)
	}
	return &Ledger{
		attempts: attempts,
		history:  history,
		breaker:  breaker,
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

func (l *Ledger) Breaker() Breaker { return l.breaker }

// Ready reports whether sub may receive deliveries.
func (l *Ledger) Ready(sub *model.Subscription) bool { return l.breaker.Ready(sub) }

// Begin creates the pending attempt for job, snapshotting the subscription URL.
func (l *Ledger) Begin(ctx context.Context, sub *model.Subscription, job model.DeliveryJob) (*model.DeliveryAttempt, error) {
	a := &model.DeliveryAttempt{
		ID:             util.New(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Event:          job.Event,
		Payload:        job.Payload,
		URL:            sub.URL,
		AttemptNumber:  job.AttemptNumber,
		CreatedAt:      l.now().UTC(),
	}
	if a.Payload == nil {
		a.Payload = model.Payload{}
	}
	if err := l.attempts.InsertPending(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Complete writes the outcome of a and applies it to the subscription health.
func (l *Ledger) Complete(ctx context.Context, a *model.DeliveryAttempt, res model.AttemptResult) (Health, error) {
	if res.CompletedAt.IsZero() {
		res.CompletedAt = l.now()
	}
	st, err := l.attempts.Complete(ctx, a, res, l.breaker.Threshold())
	if err != nil {
		if errors.Is(err, repository.ErrAttemptCompleted) {
			return Health{}, err
		}
		return Health{}, fmt.Errorf("record attempt %s: %w", a.ID, err)
	}

	h := Health{
		Status:              st.Status,
		ConsecutiveFailures: st.ConsecutiveFailures,
		Tripped:             st.Tripped,
		Open:                l.breaker.Open(st),
	}
	if h.Tripped {
		metrics.CircuitTrips.Inc()
		l.log.Warn("circuit opened, subscription disabled",
			zap.String("subscription_id", a.SubscriptionID),
			zap.String("tenant_id", a.TenantID),
			zap.Int("consecutive_failures", h.ConsecutiveFailures),
		)
	}
	return h, nil
}

func (l *Ledger) ListBySubscription(ctx context.Context, tenantID, subscriptionID string, limit, offset int) ([]model.DeliveryAttempt, error) {
	return l.history.ListBySubscription(ctx, tenantID, subscriptionID, limit, offset)
}
